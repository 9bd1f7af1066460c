// Package session stores active workflow sessions in memory.
//
// Sessions are minted on first use and hand out live pointers: the queue
// serializes turns per session, so only one worker mutates a session at a
// time. A background sweeper evicts sessions idle past the configured
// timeout.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-agent/maestro/pkg/config"
	"github.com/maestro-agent/maestro/pkg/models"
)

// Manager is the in-memory session store plus its idle sweeper.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session

	idleTimeout   time.Duration
	sweepInterval time.Duration
	historySize   int

	cancel context.CancelFunc
	done   chan struct{}

	logger *slog.Logger
}

// NewManager creates a session store using the workflow tunables for the
// idle timeout, sweep interval, and transition history bound. Zero or
// negative values fall back to the defaults.
func NewManager(cfg *config.WorkflowConfig) *Manager {
	if cfg == nil {
		cfg = config.DefaultWorkflowConfig()
	}
	defaults := config.DefaultWorkflowConfig()

	idle := cfg.SessionIdleTimeout
	if idle <= 0 {
		idle = defaults.SessionIdleTimeout
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = defaults.SweepInterval
	}
	history := cfg.TransitionHistorySize
	if history <= 0 {
		history = models.DefaultTransitionHistorySize
	}

	return &Manager{
		sessions:      make(map[string]*models.Session),
		idleTimeout:   idle,
		sweepInterval: sweep,
		historySize:   history,
		logger:        slog.With("component", "session"),
	}
}

// GetOrCreate returns the session stored under id, creating it when
// missing. An empty id mints a fresh one.
func (m *Manager) GetOrCreate(id string) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		id = uuid.New().String()
	}
	if sess, ok := m.sessions[id]; ok {
		return sess
	}

	sess := models.NewSession(id)
	sess.SetTransitionBound(m.historySize)
	m.sessions[id] = sess
	m.logger.Info("Session created", "session_id", id)
	return sess
}

// Get returns the session stored under id.
func (m *Manager) Get(id string) (*models.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	return sess, ok
}

// Delete removes the session stored under id and reports whether it
// existed.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	m.logger.Info("Session deleted", "session_id", id)
	return true
}

// List returns the stored sessions in unspecified order.
func (m *Manager) List() []*models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*models.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// Count returns the number of stored sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Start launches the background sweeper loop.
func (m *Manager) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go m.run(ctx)

	m.logger.Info("Session sweeper started",
		"idle_timeout", m.idleTimeout,
		"sweep_interval", m.sweepInterval)
}

// Stop signals the sweeper to exit and waits for it to finish.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.logger.Info("Session sweeper stopped")
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	m.sweep()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep evicts every session idle past the timeout. Workers processing a
// turn keep their live pointer; a later request under the same id starts
// a fresh session.
func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sess := range m.sessions {
		if sess.Idle(m.idleTimeout) {
			delete(m.sessions, id)
			m.logger.Info("Session evicted",
				"session_id", id,
				"state", sess.State,
				"idle_timeout", m.idleTimeout)
		}
	}
}
