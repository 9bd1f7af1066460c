package config

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// MCPServerConfig defines one MCP server the manager owns.
type MCPServerConfig struct {
	// Transport configuration (required)
	Transport TransportConfig `yaml:"transport"`

	// Instructions surfaced to the planner when this server is selectable
	Instructions string `yaml:"instructions,omitempty"`

	// Required servers abort startup when they cannot be spawned.
	// nil means optional.
	Required *bool `yaml:"required,omitempty"`

	// ToolTimeout bounds a single tools/call. Zero means the manager default.
	ToolTimeout time.Duration `yaml:"tool_timeout,omitempty"`

	// Data masking applied to this server's tool results
	DataMasking *MaskingConfig `yaml:"data_masking,omitempty"`
}

// IsRequired reports whether startup must fail when this server cannot spawn.
func (c *MCPServerConfig) IsRequired() bool {
	return c.Required != nil && *c.Required
}

// MCPServerRegistry stores MCP server configurations in memory with thread-safe access
type MCPServerRegistry struct {
	servers map[string]*MCPServerConfig
	mu      sync.RWMutex
}

// NewMCPServerRegistry creates a new MCP server registry
func NewMCPServerRegistry(servers map[string]*MCPServerConfig) *MCPServerRegistry {
	copied := make(map[string]*MCPServerConfig, len(servers))
	for k, v := range servers {
		copied[k] = v
	}
	return &MCPServerRegistry{servers: copied}
}

// Get retrieves an MCP server configuration by ID (thread-safe)
func (r *MCPServerRegistry) Get(serverID string) (*MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	server, exists := r.servers[serverID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMCPServerNotFound, serverID)
	}
	return server, nil
}

// GetAll returns all MCP server configurations (thread-safe, returns copy)
func (r *MCPServerRegistry) GetAll() map[string]*MCPServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*MCPServerConfig, len(r.servers))
	for k, v := range r.servers {
		result[k] = v
	}
	return result
}

// Has checks if an MCP server exists in the registry (thread-safe)
func (r *MCPServerRegistry) Has(serverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.servers[serverID]
	return exists
}

// ServerIDs returns a sorted list of configured server IDs (thread-safe)
func (r *MCPServerRegistry) ServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.servers))
	for id := range r.servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of servers in the registry (thread-safe)
func (r *MCPServerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}
