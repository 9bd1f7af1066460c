// Package mcp owns the MCP (Model Context Protocol) server fleet: spawning
// and handshaking configured servers, tracking their lifecycle, caching tool
// catalogs, and executing tool calls against them. The SDK owns framing and
// response correlation; this layer owns everything above it.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/maestro-agent/maestro/pkg/config"
	"github.com/maestro-agent/maestro/pkg/models"
	"github.com/maestro-agent/maestro/pkg/version"
)

// DefaultCatalogTTL bounds how long a live catalog serves without re-probing.
const DefaultCatalogTTL = 60 * time.Second

// Status is the lifecycle state of a managed server.
type Status string

const (
	StatusSpawning  Status = "spawning"
	StatusHandshake Status = "handshake"
	StatusReady     Status = "ready"
	StatusDegraded  Status = "degraded"
	StatusDead      Status = "dead"
)

// ServerState is a point-in-time snapshot of one server for the status
// surface.
type ServerState struct {
	Server    string    `json:"server"`
	Status    Status    `json:"status"`
	ToolCount int       `json:"tool_count"`
	Restarts  int       `json:"restarts"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}

// toolSession is the slice of an SDK client session the manager drives.
// *mcpsdk.ClientSession satisfies it; tests substitute fakes.
type toolSession interface {
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
	ListTools(ctx context.Context, params *mcpsdk.ListToolsParams) (*mcpsdk.ListToolsResult, error)
	Close() error
}

// serverState is the manager's internal record for one server.
type serverState struct {
	id   string
	cfg  *config.MCPServerConfig
	hash string

	mu          sync.Mutex
	status      Status
	session     toolSession
	client      *mcpsdk.Client
	lastErr     error
	restarts    int
	since       time.Time
	everStarted bool

	// gate serializes tools/call per server: one write in flight at a time.
	// Reads (tools/list) bypass it; the SDK muxes responses.
	gate chan struct{}

	catalog catalog
	stderr  *stderrWriter

	recovering atomic.Bool
}

func newServerState(id string, cfg *config.MCPServerConfig, logger *slog.Logger) *serverState {
	return &serverState{
		id:     id,
		cfg:    cfg,
		hash:   configHash(cfg),
		status: StatusSpawning,
		since:  time.Now(),
		gate:   make(chan struct{}, 1),
		stderr: newStderrWriter(logger.With("server", id)),
	}
}

// current returns the live session and status together, so callers observe a
// consistent pair.
func (s *serverState) current() (toolSession, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, s.status
}

func (s *serverState) currentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *serverState) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.since = time.Now()
}

// beginSpawn resets the record for a (re)spawn attempt.
func (s *serverState) beginSpawn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		_ = s.session.Close()
		s.session = nil
		s.client = nil
	}
	if s.everStarted {
		s.restarts++
	}
	s.everStarted = true
	s.status = StatusSpawning
	s.since = time.Now()
}

func (s *serverState) setReady(client *mcpsdk.Client, session toolSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = client
	s.session = session
	s.status = StatusReady
	s.lastErr = nil
	s.since = time.Now()
}

// markDegraded flips a ready server to degraded. Returns false when the
// server was not ready, meaning another path already owns the failure.
func (s *serverState) markDegraded(cause error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusReady {
		return false
	}
	s.status = StatusDegraded
	s.lastErr = cause
	s.since = time.Now()
	return true
}

func (s *serverState) markDead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusDead
	s.since = time.Now()
}

func (s *serverState) recordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

func (s *serverState) lastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *serverState) closeSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	s.client = nil
	return err
}

func (s *serverState) snapshot() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := ServerState{
		Server:    s.id,
		Status:    s.status,
		ToolCount: s.catalog.toolCount(),
		Restarts:  s.restarts,
		Since:     s.since,
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

// Options configures a Manager.
type Options struct {
	// CatalogTTL overrides DefaultCatalogTTL when positive.
	CatalogTTL time.Duration

	// ReconnectBase overrides ReconnectBaseDelay when positive. It is the
	// delay before the first recovery attempt, doubling per attempt.
	ReconnectBase time.Duration

	// DataDir roots the advisory on-disk catalog cache. Empty disables it.
	DataDir string

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Manager owns the server fleet for the whole process. Servers are shared
// across sessions; per-session scoping happens in Executor.
type Manager struct {
	registry *config.MCPServerRegistry
	ttl      time.Duration
	disk     *diskCatalog
	logger   *slog.Logger

	// reconnectBase is the first recovery delay, doubling per attempt.
	// Defaults to ReconnectBaseDelay; tests shrink it.
	reconnectBase time.Duration

	lifeCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	servers map[string]*serverState

	flight singleflight.Group
}

// NewManager creates a manager over the configured servers. Nothing is
// spawned until Start.
func NewManager(registry *config.MCPServerRegistry, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mcp")

	ttl := opts.CatalogTTL
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	reconnectBase := opts.ReconnectBase
	if reconnectBase <= 0 {
		reconnectBase = ReconnectBaseDelay
	}

	lifeCtx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry:      registry,
		ttl:           ttl,
		disk:          newDiskCatalog(opts.DataDir, logger),
		logger:        logger,
		reconnectBase: reconnectBase,
		lifeCtx:       lifeCtx,
		cancel:        cancel,
		servers:       make(map[string]*serverState),
	}
}

// Start spawns every configured server in parallel and waits for the fleet
// to settle. A required server that fails to come up fails Start; optional
// servers that fail are marked dead and logged. Catalogs found in the disk
// cache pre-seed prompt context before the live fetch lands.
func (m *Manager) Start(ctx context.Context) error {
	cfgs := m.registry.GetAll()

	m.mu.Lock()
	starting := make([]*serverState, 0, len(cfgs))
	for id, cfg := range cfgs {
		if _, exists := m.servers[id]; exists {
			continue
		}
		s := newServerState(id, cfg, m.logger)
		if defs := m.disk.load(id, s.hash); len(defs) > 0 {
			s.catalog.preload(defs)
			m.logger.Debug("Catalog pre-seeded from disk cache",
				"server", id, "tools", len(defs))
		}
		m.servers[id] = s
		starting = append(starting, s)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range starting {
		g.Go(func() error {
			err := m.startServer(gctx, s)
			if err == nil {
				return nil
			}
			if s.cfg.IsRequired() {
				return fmt.Errorf("required MCP server %q: %w", s.id, err)
			}
			m.logger.Warn("Optional MCP server failed to start",
				"server", s.id, "error", err)
			s.recordError(err)
			s.markDead()
			return nil
		})
	}
	return g.Wait()
}

// startServer runs the full lifecycle for one server: spawn, handshake,
// catalog fetch, ready. The catalog lands before the ready flip, so a server
// is never ready with a stale or missing catalog. ctx bounds the attempt;
// child process lifetime is tied to the manager, not to ctx.
func (m *Manager) startServer(ctx context.Context, s *serverState) error {
	s.beginSpawn()

	transport, err := createTransport(m.lifeCtx, s.cfg.Transport, s.stderr)
	if err != nil {
		return &SpawnError{Server: s.id, Err: err}
	}

	s.setStatus(StatusHandshake)
	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return &HandshakeError{Server: s.id, Err: err}
	}

	if err := m.fetchCatalog(ctx, s, session); err != nil {
		_ = session.Close()
		return err
	}

	s.setReady(client, session)
	m.logger.Info("MCP server ready",
		"server", s.id, "tools", s.catalog.toolCount(), "restarts", s.restarts)
	return nil
}

// fetchCatalog probes tools/list and installs the result, mirroring it to
// the disk cache.
func (m *Manager) fetchCatalog(ctx context.Context, s *serverState, session toolSession) error {
	opCtx, cancel := context.WithTimeout(ctx, CatalogRefreshTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return &RPCError{Server: s.id, Err: err}
	}

	defs, known := buildCatalog(s.id, result.Tools, m.logger)
	s.catalog.set(defs, known)
	m.disk.store(s.id, s.hash, defs)
	return nil
}

// Call executes one tool call against a server. tool may arrive in canonical
// `server__tool`, wire `server_tool`, or bare form; the wire spelling is
// resolved against the live catalog at this last hop.
//
// Transport failures degrade the server, kick recovery, and surface as
// ServerDeadError. Calls against servers that are not ready fail fast the
// same way. Tool-level failures inside a healthy session come back as the
// SDK result with IsError set, not as a Go error.
func (m *Manager) Call(ctx context.Context, server, tool string, params map[string]any) (*mcpsdk.CallToolResult, error) {
	s, err := m.serverByID(server)
	if err != nil {
		return nil, err
	}

	select {
	case s.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.gate }()

	session, status := s.current()
	if status != StatusReady || session == nil {
		return nil, &ServerDeadError{Server: server, Status: status, Err: s.lastError()}
	}

	wire := WireName(server, tool, s.catalog.wireNames())

	result, err := m.callOnce(ctx, s, session, wire, params)
	if err == nil {
		return result, nil
	}

	switch ClassifyError(err) {
	case RetrySameSession:
		backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
		m.logger.Info("MCP call throttled, retrying",
			"server", server, "tool", wire, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		result, err = m.callOnce(ctx, s, session, wire, params)
		if err == nil {
			return result, nil
		}
		if ClassifyError(err) == RetryNewSession {
			m.failServer(s, err)
			return nil, &ServerDeadError{Server: server, Status: StatusDegraded, Err: err}
		}
		return nil, &RPCError{Server: server, Tool: wire, Err: err}

	case RetryNewSession:
		m.failServer(s, err)
		return nil, &ServerDeadError{Server: server, Status: StatusDegraded, Err: err}

	default:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RPCError{Server: server, Tool: wire, Err: err}
	}
}

func (m *Manager) callOnce(ctx context.Context, s *serverState, session toolSession, wire string, params map[string]any) (*mcpsdk.CallToolResult, error) {
	timeout := OperationTimeout
	if s.cfg != nil && s.cfg.ToolTimeout > 0 {
		timeout = s.cfg.ToolTimeout
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return session.CallTool(opCtx, &mcpsdk.CallToolParams{
		Name:      wire,
		Arguments: params,
	})
}

// failServer handles a transport drop: ready → degraded, pending SDK calls
// fail on session close, and exactly one recovery loop starts.
func (m *Manager) failServer(s *serverState, cause error) {
	if !s.markDegraded(cause) {
		return
	}
	m.logger.Warn("MCP server transport failed",
		"server", s.id, "error", cause)
	_ = s.closeSession()

	if s.recovering.CompareAndSwap(false, true) {
		m.wg.Add(1)
		go m.recoverServer(s)
	}
}

// Tools returns the server's catalog in canonical form. Fresh entries serve
// from memory; expired ones refresh lazily behind a singleflight. When the
// refresh fails and stale definitions exist (including disk-seeded advisory
// ones), the stale catalog keeps serving with a warning.
func (m *Manager) Tools(ctx context.Context, server string) ([]models.ToolDefinition, error) {
	s, err := m.serverByID(server)
	if err != nil {
		return nil, err
	}

	defs, fetchedAt, advisory := s.catalog.snapshot()
	if defs != nil && !advisory && time.Since(fetchedAt) < m.ttl {
		return defs, nil
	}

	_, err, _ = m.flight.Do(server, func() (any, error) {
		if cur, at, adv := s.catalog.snapshot(); cur != nil && !adv && time.Since(at) < m.ttl {
			return nil, nil
		}
		return nil, m.refreshCatalog(s)
	})
	if err != nil {
		if defs != nil {
			m.logger.Warn("Serving stale MCP catalog",
				"server", server, "advisory", advisory,
				"age", time.Since(fetchedAt).Round(time.Second), "error", err)
			return defs, nil
		}
		return nil, err
	}

	defs, _, _ = s.catalog.snapshot()
	return defs, nil
}

// refreshCatalog re-probes a ready server. Runs under the manager's
// lifecycle context: a caller hanging up must not poison the shared cache
// for the waiters coalesced behind it.
func (m *Manager) refreshCatalog(s *serverState) error {
	session, status := s.current()
	if status != StatusReady || session == nil {
		return &ServerDeadError{Server: s.id, Status: status, Err: s.lastError()}
	}
	return m.fetchCatalog(m.lifeCtx, s, session)
}

// ping probes a server's session with a cheap tools/list, bypassing the
// catalog cache. The caller bounds ctx; the health monitor uses its ping
// timeout.
func (m *Manager) ping(ctx context.Context, s *serverState) error {
	session, status := s.current()
	if status != StatusReady || session == nil {
		return &ServerDeadError{Server: s.id, Status: status, Err: s.lastError()}
	}

	_, err := session.ListTools(ctx, nil)
	return err
}

// Statuses returns a snapshot of every managed server, sorted by name.
func (m *Manager) Statuses() []ServerState {
	m.mu.RLock()
	states := make([]ServerState, 0, len(m.servers))
	for _, s := range m.servers {
		states = append(states, s.snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool { return states[i].Server < states[j].Server })
	return states
}

// Ready reports whether a server currently accepts calls.
func (m *Manager) Ready(server string) bool {
	s, err := m.serverByID(server)
	if err != nil {
		return false
	}
	return s.currentStatus() == StatusReady
}

// ReadyServers returns the names of servers currently accepting calls,
// sorted.
func (m *Manager) ReadyServers() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.servers))
	for id, s := range m.servers {
		if s.currentStatus() == StatusReady {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// ServerIDs returns the managed server names, sorted.
func (m *Manager) ServerIDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Stop tears the fleet down: recovery loops drain, sessions close, child
// processes are reaped through the lifecycle context.
func (m *Manager) Stop() error {
	m.cancel()
	m.wg.Wait()

	m.mu.RLock()
	servers := make([]*serverState, 0, len(m.servers))
	for _, s := range m.servers {
		servers = append(servers, s)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, s := range servers {
		if err := s.closeSession(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %q: %w", s.id, err)
		}
		s.stderr.flush()
	}
	return firstErr
}

func (m *Manager) serverByID(id string) (*serverState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", config.ErrMCPServerNotFound, id)
	}
	return s, nil
}
