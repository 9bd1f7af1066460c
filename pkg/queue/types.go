// Package queue dispatches incoming requests to a pool of workers while
// keeping each session on one worker at a time.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/maestro-agent/maestro/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrQueueFull indicates the pending queue is at its depth bound.
	ErrQueueFull = errors.New("queue full")

	// ErrQueueClosed indicates the pool no longer accepts requests.
	ErrQueueClosed = errors.New("queue closed")
)

// Executor processes one request end to end. The workflow engine is the
// production implementation; the worker only handles claiming, the turn
// context, and the cancel registry.
type Executor interface {
	HandleMessage(ctx context.Context, req models.Request) error
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	ActiveTurns   int            `json:"active_turns"`
	QueueDepth    int            `json:"queue_depth"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID               string       `json:"id"`
	Status           WorkerStatus `json:"status"`
	CurrentSessionID string       `json:"current_session_id,omitempty"`
	TurnsProcessed   int          `json:"turns_processed"`
	LastActivity     time.Time    `json:"last_activity"`
}
