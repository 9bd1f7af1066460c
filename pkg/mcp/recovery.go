package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// RecoveryAction determines how to handle an MCP operation failure.
type RecoveryAction int

const (
	// NoRetry: the error is not recoverable (bad request, auth failure, timeout).
	NoRetry RecoveryAction = iota
	// RetrySameSession: transient error, retry with the existing session (rate limit).
	RetrySameSession
	// RetryNewSession: transport failure, the session is gone.
	RetryNewSession
)

// Recovery configuration constants.
const (
	// ReconnectAttempts is the number of reconnection attempts after a
	// transport drop before the server is declared dead.
	ReconnectAttempts = 3

	// ReconnectBaseDelay is the delay before the first reconnection attempt.
	// The delay doubles on each subsequent attempt (1s, 2s, 4s).
	ReconnectBaseDelay = 1 * time.Second

	// OperationTimeout is the per-call deadline for tools/call.
	// Set conservatively: some tools are legitimately slow. Request deadlines
	// propagated from the caller remain the hard ceiling above this.
	OperationTimeout = 90 * time.Second

	// InitTimeout is the per-server startup deadline (spawn + handshake).
	InitTimeout = 30 * time.Second

	// CatalogRefreshTimeout bounds a tools/list refresh.
	CatalogRefreshTimeout = 15 * time.Second

	// RetryBackoffMin is the minimum jittered backoff before a same-session retry.
	RetryBackoffMin = 250 * time.Millisecond

	// RetryBackoffMax is the maximum jittered backoff before a same-session retry.
	RetryBackoffMax = 750 * time.Millisecond

	// HealthPingTimeout is the health check ping timeout.
	HealthPingTimeout = 5 * time.Second

	// HealthInterval is the health check loop interval.
	HealthInterval = 15 * time.Second
)

// ClassifyError determines the recovery action for an MCP operation error.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}

	// Context errors: no retry
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	// Network errors: check timeout vs connection
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NoRetry // Timeout: don't retry (could be a slow server)
		}
		return RetryNewSession
	}

	// Connection-level errors: the session is gone
	if isConnectionError(err) {
		return RetryNewSession
	}

	// Throttling from HTTP-backed servers: same session, brief backoff
	if isThrottleError(err) {
		return RetrySameSession
	}

	// MCP JSON-RPC errors, generally not retryable
	if isProtocolError(err) {
		return NoRetry
	}

	// Default: no retry (unknown errors are not safe to retry)
	return NoRetry
}

// isConnectionError detects connection-level transport failures.
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	connectionErrors := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
	}
	for _, e := range connectionErrors {
		if strings.Contains(msg, e) {
			return true
		}
	}
	return false
}

// isThrottleError detects rate limiting surfaced as an RPC error.
func isThrottleError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}

// isProtocolError detects MCP JSON-RPC protocol errors from the SDK.
// These are client-side errors like bad request, method not found, etc.
func isProtocolError(err error) bool {
	msg := strings.ToLower(err.Error())
	protocolIndicators := []string{
		"method not found",
		"invalid params",
		"invalid request",
		"parse error",
	}
	for _, indicator := range protocolIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

// recoverServer runs the bounded reconnection loop for a degraded server.
// Each attempt re-runs the full lifecycle (spawn, handshake, catalog refresh)
// so the server is never marked ready with a stale catalog. After the final
// failed attempt the server is declared dead and rejects calls fast.
//
// At most one recovery loop runs per server; failServer guards the entry.
func (m *Manager) recoverServer(s *serverState) {
	defer m.wg.Done()
	defer s.recovering.Store(false)

	for attempt := 1; attempt <= ReconnectAttempts; attempt++ {
		delay := m.reconnectBase << (attempt - 1)
		select {
		case <-time.After(delay):
		case <-m.lifeCtx.Done():
			return
		}

		err := m.startServer(m.lifeCtx, s)
		if err == nil {
			m.logger.Info("MCP server reconnected",
				"server", s.id, "attempt", attempt)
			return
		}

		m.logger.Warn("MCP reconnection attempt failed",
			"server", s.id, "attempt", attempt, "max_attempts", ReconnectAttempts,
			"error", err)
		s.recordError(err)
	}

	s.markDead()
	m.logger.Error("MCP server declared dead after failed reconnection",
		"server", s.id, "attempts", ReconnectAttempts)
}
