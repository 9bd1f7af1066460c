// Package outbound serializes and paces every outbound HTTP call through
// per-service priority queues with retry, Retry-After-aware backoff, and
// circuit breaking. One queue exists per logical service (llm, tts, vision,
// mcp_http); inside a queue requests start strictly paced, between queues
// they are independent.
package outbound

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/maestro-agent/maestro/pkg/config"
)

// Stats is a point-in-time snapshot of one service queue. Failed counts both
// failed executions and rejected submissions.
type Stats struct {
	Queued          int
	InFlight        int
	Succeeded       uint64
	Failed          uint64
	Retries         uint64
	BreakerState    BreakerState
	CurrentInterval time.Duration
}

// Client owns the per-service queues. Construct once at startup, Stop on
// shutdown.
type Client struct {
	queues map[string]*serviceQueue
	logger *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient builds a queue per configured service and starts its dispatcher.
func NewClient(services *config.ServiceRegistry) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		queues: make(map[string]*serviceQueue),
		logger: slog.With("component", "outbound_client"),
		cancel: cancel,
	}
	for name, cfg := range services.GetAll() {
		q := newServiceQueue(name, cfg)
		c.queues[name] = q
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			q.dispatch(ctx)
		}()
	}
	c.logger.Info("Outbound client started", "services", services.Names())
	return c
}

// Do submits a request to its service queue and blocks until it completes,
// fails, or times out in the queue.
func (c *Client) Do(ctx context.Context, req Request) error {
	q, ok := c.queues[req.Service]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, req.Service)
	}
	return q.submit(ctx, req)
}

// BreakerState returns the breaker state for one service, or "" when the
// service is unknown.
func (c *Client) BreakerState(service string) BreakerState {
	q, ok := c.queues[service]
	if !ok {
		return ""
	}
	return q.breaker.State()
}

// Stats snapshots every service queue.
func (c *Client) Stats() map[string]Stats {
	out := make(map[string]Stats, len(c.queues))
	for name, q := range c.queues {
		out[name] = q.stats()
	}
	return out
}

// Stop shuts the dispatchers down, fails queued requests with
// ErrClientClosed, and waits for in-flight requests bounded by ctx.
func (c *Client) Stop(ctx context.Context) error {
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		for _, q := range c.queues {
			q.workers.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		c.logger.Info("Outbound client stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("outbound client shutdown timed out: %w", ctx.Err())
	}
}

type serviceQueue struct {
	name   string
	cfg    *config.ServiceConfig
	logger *slog.Logger

	mu     sync.Mutex
	heap   pendingHeap
	seq    uint64
	closed bool

	wake  chan struct{} // work-arrived signal, capacity 1
	slots chan struct{} // in-flight semaphore

	breaker *CircuitBreaker

	// startLimiter enforces a start-to-start floor so concurrent slots
	// cannot stampede right after one completion frees the gate.
	startLimiter *rate.Limiter

	// Pacing state. nextStartAt is pushed forward on every completion by the
	// current interval (and by Retry-After on failures); interval doubles on
	// failure and resets on success.
	paceMu      sync.Mutex
	nextStartAt time.Time
	interval    time.Duration
	starts      []time.Time // burst window start timestamps

	succeeded atomic.Uint64
	failed    atomic.Uint64
	retries   atomic.Uint64
	inFlight  atomic.Int64

	workers sync.WaitGroup
}

func newServiceQueue(name string, cfg *config.ServiceConfig) *serviceQueue {
	return &serviceQueue{
		name:         name,
		cfg:          cfg,
		logger:       slog.With("component", "outbound_queue", "service", name),
		wake:         make(chan struct{}, 1),
		slots:        make(chan struct{}, cfg.MaxConcurrent),
		breaker:      NewCircuitBreaker(name, cfg.Breaker),
		startLimiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		interval:     cfg.MinInterval,
	}
}

func (q *serviceQueue) submit(ctx context.Context, req Request) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrClientClosed, q.name)
	}
	if len(q.heap) >= q.cfg.QueueDepth {
		q.mu.Unlock()
		q.failed.Add(1)
		return fmt.Errorf("%w: %s at depth %d", ErrQueueOverflow, q.name, q.cfg.QueueDepth)
	}
	q.seq++
	item := newPending(ctx, req, q.seq)
	heap.Push(&q.heap, item)
	q.mu.Unlock()
	q.signal()

	var timeout <-chan time.Time
	if q.cfg.QueueTimeout > 0 {
		timer := time.NewTimer(q.cfg.QueueTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-item.result:
		return err
	case <-ctx.Done():
		if item.abort() {
			q.failed.Add(1)
			return fmt.Errorf("request cancelled while queued: %w", ctx.Err())
		}
		// already dispatched; the attempt context carries the cancellation
		return <-item.result
	case <-timeout:
		if item.abort() {
			q.failed.Add(1)
			return fmt.Errorf("%w: %s after %s", ErrQueueTimeout, q.name, q.cfg.QueueTimeout)
		}
		return <-item.result
	}
}

// dispatch is the queue's single scheduling loop: slot, pacing gates, pop,
// burst admission, then hand off to a worker goroutine.
func (q *serviceQueue) dispatch(ctx context.Context) {
	defer q.drain()
	for {
		if !q.waitWork(ctx) {
			return
		}
		select {
		case q.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		if q.cfg.BlockOnBurst {
			if !q.waitBurstCapacity(ctx) {
				q.release()
				return
			}
		}
		if !q.waitGate(ctx) {
			q.release()
			return
		}
		if err := q.startLimiter.Wait(ctx); err != nil {
			q.release()
			return
		}

		item := q.pop()
		if item == nil {
			q.release()
			continue
		}
		if !q.cfg.BlockOnBurst {
			if full, _ := q.burstFull(); full {
				item.complete(fmt.Errorf("%w: %s (%d requests in %s)",
					ErrRateLimitExceeded, q.name, q.cfg.BurstLimit, q.cfg.BurstWindow))
				q.failed.Add(1)
				q.release()
				continue
			}
		}

		q.noteStart()
		q.workers.Add(1)
		go q.run(ctx, item)
	}
}

func (q *serviceQueue) run(dispatchCtx context.Context, item *pending) {
	defer q.workers.Done()
	defer q.release()

	q.inFlight.Add(1)
	defer q.inFlight.Add(-1)

	err := q.execute(dispatchCtx, item)
	if err != nil {
		q.failed.Add(1)
	} else {
		q.succeeded.Add(1)
	}
	item.complete(err)
}

// execute runs the request with retries. Retry attempts count toward the
// burst window but are paced by the retry delay alone.
func (q *serviceQueue) execute(dispatchCtx context.Context, item *pending) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := q.breaker.Allow(); err != nil {
			return err
		}
		if attempt > 0 {
			q.retries.Add(1)
			q.noteStart()
		}

		attemptCtx := item.ctx
		var cancel context.CancelFunc
		if q.cfg.RequestTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(item.ctx, q.cfg.RequestTimeout)
		}
		err := item.req.Fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		q.noteCompletion(err)

		if err == nil {
			return nil
		}
		lastErr = err
		if isCancellation(err) || !retryableError(err) || attempt >= q.cfg.MaxRetries {
			return lastErr
		}

		delay := retryDelay(err, attempt, q.cfg)
		q.logger.Warn("Retrying outbound request",
			"label", item.req.Label,
			"attempt", attempt+1,
			"max_retries", q.cfg.MaxRetries,
			"delay", delay,
			"error", err)
		select {
		case <-time.After(delay):
		case <-item.ctx.Done():
			return fmt.Errorf("request cancelled during retry backoff: %w", item.ctx.Err())
		case <-dispatchCtx.Done():
			return lastErr
		}
	}
}

// noteCompletion updates the pacing gate, the failure interval, and the
// breaker after one attempt. Caller-side cancellations are not service
// signals and leave all of them untouched.
func (q *serviceQueue) noteCompletion(err error) {
	if err != nil && isCancellation(err) {
		return
	}

	now := time.Now()
	q.paceMu.Lock()
	if err == nil {
		q.interval = q.cfg.MinInterval
	} else {
		doubled := q.interval * 2
		if doubled > q.cfg.RetryAfterHi {
			doubled = q.cfg.RetryAfterHi
		}
		q.interval = doubled
	}
	gate := now.Add(q.interval)
	if err != nil {
		if ra, ok := retryAfterHint(err, q.cfg); ok {
			if raGate := now.Add(ra); raGate.After(gate) {
				gate = raGate
			}
		}
	}
	if gate.After(q.nextStartAt) {
		q.nextStartAt = gate
	}
	q.paceMu.Unlock()

	if err == nil {
		q.breaker.RecordSuccess()
	} else {
		q.breaker.RecordFailure()
	}
}

// waitWork blocks until the heap has items or the dispatcher stops.
func (q *serviceQueue) waitWork(ctx context.Context) bool {
	for {
		q.mu.Lock()
		n := len(q.heap)
		q.mu.Unlock()
		if n > 0 {
			return true
		}
		select {
		case <-q.wake:
		case <-ctx.Done():
			return false
		}
	}
}

// waitGate blocks until the completion-measured pacing gate opens.
func (q *serviceQueue) waitGate(ctx context.Context) bool {
	for {
		q.paceMu.Lock()
		wait := time.Until(q.nextStartAt)
		q.paceMu.Unlock()
		if wait <= 0 {
			return true
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return false
		}
	}
}

// burstFull prunes the sliding window and reports whether it is exhausted,
// with the wait until the oldest start leaves the window.
func (q *serviceQueue) burstFull() (bool, time.Duration) {
	q.paceMu.Lock()
	defer q.paceMu.Unlock()

	cutoff := time.Now().Add(-q.cfg.BurstWindow)
	kept := q.starts[:0]
	for _, t := range q.starts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	q.starts = kept
	if len(q.starts) < q.cfg.BurstLimit {
		return false, 0
	}
	return true, q.starts[0].Sub(cutoff)
}

func (q *serviceQueue) waitBurstCapacity(ctx context.Context) bool {
	for {
		full, wait := q.burstFull()
		if !full {
			return true
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return false
		}
	}
}

func (q *serviceQueue) noteStart() {
	q.paceMu.Lock()
	q.starts = append(q.starts, time.Now())
	q.paceMu.Unlock()
}

func (q *serviceQueue) pop() *pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.heap) > 0 {
		item := heap.Pop(&q.heap).(*pending)
		if !item.claim() {
			continue // aborted while queued
		}
		return item
	}
	return nil
}

func (q *serviceQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *serviceQueue) release() {
	<-q.slots
}

// drain fails everything still queued once the dispatcher has stopped.
func (q *serviceQueue) drain() {
	q.mu.Lock()
	q.closed = true
	items := q.heap
	q.heap = nil
	q.mu.Unlock()

	for _, item := range items {
		if item.claim() {
			item.complete(fmt.Errorf("%w: %s", ErrClientClosed, q.name))
		}
	}
}

func (q *serviceQueue) stats() Stats {
	q.mu.Lock()
	queued := len(q.heap)
	q.mu.Unlock()
	q.paceMu.Lock()
	interval := q.interval
	q.paceMu.Unlock()

	return Stats{
		Queued:          queued,
		InFlight:        int(q.inFlight.Load()),
		Succeeded:       q.succeeded.Load(),
		Failed:          q.failed.Load(),
		Retries:         q.retries.Load(),
		BreakerState:    q.breaker.State(),
		CurrentInterval: interval,
	}
}
