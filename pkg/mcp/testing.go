package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/maestro-agent/maestro/pkg/config"
)

// InjectServer wires a pre-connected MCP SDK session into the manager as a
// ready server. Test infrastructure uses this to run in-memory MCP servers
// without the process spawn path. The catalog is fetched through the normal
// tools/list probe so naming and cache behavior match production.
func (m *Manager) InjectServer(ctx context.Context, serverID string, cfg *config.MCPServerConfig, client *mcpsdk.Client, session *mcpsdk.ClientSession) error {
	if cfg == nil {
		cfg = &config.MCPServerConfig{}
	}
	s := newServerState(serverID, cfg, m.logger)
	s.mu.Lock()
	s.everStarted = true
	s.status = StatusHandshake
	s.mu.Unlock()

	if err := m.fetchCatalog(ctx, s, session); err != nil {
		return err
	}
	s.setReady(client, session)

	m.mu.Lock()
	m.servers[serverID] = s
	m.mu.Unlock()
	return nil
}

// DropServer simulates a transport failure for tests: the server degrades,
// pending calls fail, and the recovery loop starts exactly as it would on a
// real drop.
func (m *Manager) DropServer(serverID string, cause error) {
	s, err := m.serverByID(serverID)
	if err != nil {
		return
	}
	m.failServer(s, cause)
}
