package outbound

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maestro-agent/maestro/pkg/config"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// CircuitBreaker guards one outbound service. Consecutive failures trip it
// open; after the reset timeout a single probe at a time is admitted, and
// enough consecutive probe successes close it again.
type CircuitBreaker struct {
	mu sync.Mutex

	service string
	cfg     config.BreakerConfig
	logger  *slog.Logger

	state          BreakerState
	failures       int // consecutive failures while closed
	probeSuccesses int // consecutive successes while half-open
	probeInFlight  bool
	openedAt       time.Time

	now func() time.Time // swapped in tests
}

// NewCircuitBreaker creates a closed breaker for one service.
func NewCircuitBreaker(service string, cfg config.BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		service: service,
		cfg:     cfg,
		logger:  slog.With("component", "circuit_breaker", "service", service),
		state:   BreakerClosed,
		now:     time.Now,
	}
}

// Allow reports whether a request may proceed. While open it fails fast until
// the reset timeout elapses; in half-open it admits one probe at a time.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil

	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return fmt.Errorf("%w: %s", ErrCircuitOpen, b.service)
		}
		b.toHalfOpenLocked()
		b.probeInFlight = true
		return nil

	case BreakerHalfOpen:
		if b.probeInFlight {
			return fmt.Errorf("%w: %s (probe in flight)", ErrCircuitOpen, b.service)
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess notes a successful request.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0

	case BreakerHalfOpen:
		b.probeInFlight = false
		b.probeSuccesses++
		if b.probeSuccesses >= b.cfg.SuccessThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.logger.Info("Circuit breaker closed", "probe_successes", b.probeSuccesses)
		}
	}
}

// RecordFailure notes a failed request.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openLocked()
		}

	case BreakerHalfOpen:
		// any probe failure reopens
		b.probeInFlight = false
		b.openLocked()
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) openLocked() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.probeSuccesses = 0
	b.logger.Warn("Circuit breaker opened",
		"consecutive_failures", b.failures,
		"reset_timeout", b.cfg.ResetTimeout)
}

func (b *CircuitBreaker) toHalfOpenLocked() {
	b.state = BreakerHalfOpen
	b.probeSuccesses = 0
	b.probeInFlight = false
	b.logger.Info("Circuit breaker half-open, admitting probes")
}
