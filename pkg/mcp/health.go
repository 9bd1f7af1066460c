package mcp

import (
	"context"
	"log/slog"
	"time"
)

// HealthMonitor periodically probes ready servers with a cheap tools/list.
// A failed probe degrades the server and kicks the manager's recovery loop;
// servers already degraded, dead, or mid-spawn are left to recovery. The
// status surface itself lives on the Manager.
type HealthMonitor struct {
	manager *Manager

	checkInterval time.Duration
	pingTimeout   time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewHealthMonitor creates a monitor over the manager's fleet.
func NewHealthMonitor(manager *Manager) *HealthMonitor {
	return &HealthMonitor{
		manager:       manager,
		checkInterval: HealthInterval,
		pingTimeout:   HealthPingTimeout,
		logger:        manager.logger.With("component", "mcp-health"),
	}
}

// Start launches the background check loop.
// Calling Start on an already-running monitor is a no-op.
func (h *HealthMonitor) Start(ctx context.Context) {
	if h.cancel != nil {
		return // already started
	}
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})

	go h.loop(ctx)
}

// Stop shuts the monitor down and waits for the loop to exit.
// After Stop returns, Start may be called again.
func (h *HealthMonitor) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	if h.done != nil {
		<-h.done
	}
	h.cancel = nil
	h.done = nil
}

func (h *HealthMonitor) loop(ctx context.Context) {
	defer close(h.done)

	// First sweep immediately, then on the ticker.
	h.checkAll(ctx)

	ticker := time.NewTicker(h.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.checkAll(ctx)
		}
	}
}

func (h *HealthMonitor) checkAll(ctx context.Context) {
	for _, id := range h.manager.ServerIDs() {
		if ctx.Err() != nil {
			return
		}
		h.checkServer(ctx, id)
	}
}

func (h *HealthMonitor) checkServer(ctx context.Context, serverID string) {
	s, err := h.manager.serverByID(serverID)
	if err != nil {
		return
	}
	if s.currentStatus() != StatusReady {
		// Spawning servers aren't up yet; degraded and dead ones belong to
		// the recovery loop.
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, h.pingTimeout)
	defer cancel()

	if err := h.manager.ping(pingCtx, s); err != nil {
		h.logger.Warn("Health check failed",
			"server", serverID, "error", err)
		h.manager.failServer(s, err)
		return
	}

	h.logger.Debug("Health check passed", "server", serverID)
}
