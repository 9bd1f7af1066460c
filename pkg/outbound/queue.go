package outbound

import (
	"container/heap"
	"context"
	"sync/atomic"
	"time"
)

// Request priorities. Higher values dequeue first; ties are FIFO.
const (
	PriorityNormal = 0
	PriorityHigh   = 10
)

// Request is one unit of outbound work. Fn is invoked with a per-attempt
// context bounded by the service request timeout; it may run multiple times
// when the failure is retryable.
type Request struct {
	Service  string
	Priority int
	Label    string // operation name for logging
	Fn       func(ctx context.Context) error
}

// pending item lifecycle, guarded by an atomic CAS so the dispatcher and the
// waiting caller race cleanly for ownership.
const (
	pendingQueued int32 = iota
	pendingRunning
	pendingAborted
)

type pending struct {
	req      Request
	ctx      context.Context
	seq      uint64
	enqueued time.Time
	state    atomic.Int32
	result   chan error

	index int // heap bookkeeping
}

func newPending(ctx context.Context, req Request, seq uint64) *pending {
	return &pending{
		req:      req,
		ctx:      ctx,
		seq:      seq,
		enqueued: time.Now(),
		result:   make(chan error, 1),
	}
}

// claim marks the item running. Returns false if the caller aborted it first.
func (p *pending) claim() bool {
	return p.state.CompareAndSwap(pendingQueued, pendingRunning)
}

// abort marks the item dead while still queued. Returns false if the
// dispatcher claimed it first.
func (p *pending) abort() bool {
	return p.state.CompareAndSwap(pendingQueued, pendingAborted)
}

func (p *pending) complete(err error) {
	p.result <- err
}

// pendingHeap orders by priority (higher first), then FIFO by sequence.
type pendingHeap []*pending

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].req.Priority != h[j].req.Priority {
		return h[i].req.Priority > h[j].req.Priority
	}
	return h[i].seq < h[j].seq
}

func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *pendingHeap) Push(x any) {
	item := x.(*pending)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*pendingHeap)(nil)
