package queue

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-agent/maestro/pkg/config"
	"github.com/maestro-agent/maestro/pkg/models"
)

// Pool manages the pending request queue and the workers draining it.
//
// Requests are claimed in arrival order, except that a request whose
// session is already being processed is skipped until that turn finishes.
// That keeps sessions strictly sequential without letting one chatty
// session block the queue.
type Pool struct {
	cfg      *config.QueueConfig
	executor Executor
	workers  []*Worker

	mu       sync.Mutex
	pending  []models.Request
	inFlight map[string]context.CancelFunc
	closed   bool
	started  bool

	// wake nudges one idle worker on enqueue; the poll interval is the
	// fallback when the nudge is lost.
	wake chan struct{}

	logger *slog.Logger
}

// NewPool creates a worker pool draining into executor.
func NewPool(cfg *config.QueueConfig, executor Executor) *Pool {
	if cfg == nil {
		cfg = config.DefaultQueueConfig()
	}
	return &Pool{
		cfg:      cfg,
		executor: executor,
		workers:  make([]*Worker, 0, cfg.WorkerCount),
		inFlight: make(map[string]context.CancelFunc),
		wake:     make(chan struct{}, cfg.WorkerCount),
		logger:   slog.With("component", "queue"),
	}
}

// Start spawns the worker goroutines. It is safe to call multiple times;
// subsequent calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		p.logger.Warn("Worker pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	p.logger.Info("Starting worker pool", "worker_count", p.cfg.WorkerCount)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		worker := NewWorker(i, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}
	p.logger.Info("Worker pool started")
}

// Stop closes the queue and waits for the workers to finish their current
// turns. Requests still pending are dropped.
func (p *Pool) Stop() {
	p.logger.Info("Stopping worker pool gracefully")

	p.mu.Lock()
	p.closed = true
	dropped := len(p.pending)
	p.pending = nil
	active := make([]string, 0, len(p.inFlight))
	for id := range p.inFlight {
		active = append(active, id)
	}
	p.mu.Unlock()

	if dropped > 0 {
		p.logger.Warn("Dropping queued requests on shutdown", "count", dropped)
	}
	if len(active) > 0 {
		p.logger.Info("Waiting for active turns to complete",
			"count", len(active),
			"session_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}
	p.logger.Info("Worker pool stopped gracefully")
}

// Enqueue accepts a request and returns the session id it will run under,
// minting one when the request carries none.
func (p *Pool) Enqueue(req models.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", ErrQueueClosed
	}
	if len(p.pending) >= p.cfg.Depth {
		return "", ErrQueueFull
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}
	p.pending = append(p.pending, req)

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return req.SessionID, nil
}

// claim pops the oldest pending request whose session is not in flight
// and marks the session claimed. Returns false when nothing is claimable.
func (p *Pool) claim() (models.Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, req := range p.pending {
		if _, busy := p.inFlight[req.SessionID]; busy {
			continue
		}
		p.pending = slices.Delete(p.pending, i, i+1)
		p.inFlight[req.SessionID] = nil
		return req, true
	}
	return models.Request{}, false
}

// RegisterSession stores a cancel function for manual cancellation.
func (p *Pool) RegisterSession(sessionID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight[sessionID] = cancel
}

// UnregisterSession removes the cancel function when processing ends,
// releasing the session for the next claim.
func (p *Pool) UnregisterSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, sessionID)

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// CancelSession triggers context cancellation for an in-flight session.
// Returns true if the session was found and cancelled.
func (p *Pool) CancelSession(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.inFlight[sessionID]; ok && cancel != nil {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *Pool) Health() PoolHealth {
	p.mu.Lock()
	depth := len(p.pending)
	turns := len(p.inFlight)
	p.mu.Unlock()

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == WorkerStatusWorking {
			activeWorkers++
		}
	}

	return PoolHealth{
		ActiveWorkers: activeWorkers,
		TotalWorkers:  len(p.workers),
		ActiveTurns:   turns,
		QueueDepth:    depth,
		WorkerStats:   workerStats,
	}
}

// pollInterval returns the poll duration with jitter.
func (p *Pool) pollInterval() time.Duration {
	base := p.cfg.PollInterval
	jitter := p.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}
