package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that claims and processes requests.
type Worker struct {
	id       string
	pool     *Pool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu               sync.RWMutex
	status           WorkerStatus
	currentSessionID string
	turnsProcessed   int
	lastActivity     time.Time
}

// NewWorker creates a queue worker attached to pool.
func NewWorker(n int, pool *Pool) *Worker {
	return &Worker{
		id:           fmt.Sprintf("worker-%d", n),
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its current
// turn. It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:               w.id,
		Status:           w.status,
		CurrentSessionID: w.currentSessionID,
		TurnsProcessed:   w.turnsProcessed,
		LastActivity:     w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("component", "queue", "worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if !w.processNext(ctx) {
				w.sleep(w.pool.pollInterval())
			}
		}
	}
}

// sleep waits for the given duration, a wake nudge, or stop.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-w.pool.wake:
	case <-time.After(d):
	}
}

// processNext claims one request and runs it through the executor.
// Returns false when nothing was claimable.
func (w *Worker) processNext(ctx context.Context) bool {
	req, ok := w.pool.claim()
	if !ok {
		return false
	}

	log := slog.With("session_id", req.SessionID, "worker_id", w.id)
	log.Info("Request claimed")

	w.setStatus(WorkerStatusWorking, req.SessionID)
	defer w.setStatus(WorkerStatusIdle, "")

	turnCtx, cancel := context.WithTimeout(ctx, w.pool.cfg.TurnTimeout)
	defer cancel()

	w.pool.RegisterSession(req.SessionID, cancel)
	defer w.pool.UnregisterSession(req.SessionID)

	err := w.pool.executor.HandleMessage(turnCtx, req)

	w.mu.Lock()
	w.turnsProcessed++
	w.mu.Unlock()

	// The executor owns abort semantics and error frames; the worker
	// only records the outcome.
	switch {
	case err == nil:
		log.Info("Turn complete")
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("Turn hit the processing timeout", "timeout", w.pool.cfg.TurnTimeout)
	case errors.Is(err, context.Canceled):
		log.Info("Turn cancelled")
	default:
		log.Error("Turn failed", "error", err)
	}
	return true
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentSessionID = sessionID
	w.lastActivity = time.Now()
}
