package mcp

import (
	"github.com/maestro-agent/maestro/pkg/history"
	"github.com/maestro-agent/maestro/pkg/masking"
)

// ExecutorFactory builds per-session executors over the shared manager.
// The manager and its server processes are process-global; only the
// server scope and session identity vary per executor.
type ExecutorFactory struct {
	manager *Manager
	masking *masking.MaskingService
	history *history.Ring
}

// NewExecutorFactory creates a factory. maskingService and ring may be nil.
func NewExecutorFactory(
	manager *Manager,
	maskingService *masking.MaskingService,
	ring *history.Ring,
) *ExecutorFactory {
	return &ExecutorFactory{
		manager: manager,
		masking: maskingService,
		history: ring,
	}
}

// ForSession returns an executor scoped to the given servers. Call it again
// when an item's server selection changes; executors are cheap.
func (f *ExecutorFactory) ForSession(sessionID string, servers []string) *Executor {
	return NewExecutor(f.manager, f.masking, f.history, servers, sessionID)
}

// Manager exposes the shared manager for callers that need catalog or
// status access outside an item scope.
func (f *ExecutorFactory) Manager() *Manager {
	return f.manager
}
