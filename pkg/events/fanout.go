package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity. A
// subscriber that falls this far behind starts losing frames.
const DefaultSubscriberBuffer = 64

type subscriber struct {
	id int
	ch chan Event
}

// Fanout delivers frames to per-session subscribers. Publish never
// blocks: a subscriber whose buffer is full loses the frame, and the drop
// is counted and logged. Safe for concurrent use.
type Fanout struct {
	mu       sync.RWMutex
	sessions map[string]map[int]*subscriber
	all      map[int]*subscriber
	nextID   int
	closed   bool

	buffer  int
	dropped atomic.Int64
	logger  *slog.Logger
}

var _ Publisher = (*Fanout)(nil)

// NewFanout builds a fanout with the given per-subscriber buffer.
// Non-positive means DefaultSubscriberBuffer.
func NewFanout(buffer int) *Fanout {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Fanout{
		sessions: make(map[string]map[int]*subscriber),
		all:      make(map[int]*subscriber),
		buffer:   buffer,
		logger:   slog.With("component", "events"),
	}
}

// Subscribe returns a channel of frames for one session and a cancel
// function. Cancel removes the subscription and closes the channel; it is
// safe to call more than once. After Close the returned channel is
// already closed.
func (f *Fanout) Subscribe(sessionID string) (<-chan Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sub := f.newSubscriber()
	if f.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	if f.sessions[sessionID] == nil {
		f.sessions[sessionID] = make(map[int]*subscriber)
	}
	f.sessions[sessionID][sub.id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			subs := f.sessions[sessionID]
			if _, ok := subs[sub.id]; !ok {
				return
			}
			delete(subs, sub.id)
			if len(subs) == 0 {
				delete(f.sessions, sessionID)
			}
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// SubscribeAll returns a channel receiving every session's frames.
func (f *Fanout) SubscribeAll() (<-chan Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sub := f.newSubscriber()
	if f.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	f.all[sub.id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.all[sub.id]; !ok {
				return
			}
			delete(f.all, sub.id)
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// newSubscriber mints a subscriber. Caller holds f.mu.
func (f *Fanout) newSubscriber() *subscriber {
	f.nextID++
	return &subscriber{id: f.nextID, ch: make(chan Event, f.buffer)}
}

// Publish delivers ev to the session's subscribers and every firehose
// subscriber. It never blocks.
func (f *Fanout) Publish(ev Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	f.deliver(f.sessions[ev.SessionID], ev)
	f.deliver(f.all, ev)
}

// deliver sends to each subscriber without blocking. Caller holds at
// least a read lock, which excludes concurrent channel closes.
func (f *Fanout) deliver(subs map[int]*subscriber, ev Event) {
	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			f.dropped.Add(1)
			f.logger.Warn("Subscriber lagging, frame dropped",
				"session_id", ev.SessionID,
				"frame_type", ev.Type)
		}
	}
}

// Dropped returns how many frames were lost to slow subscribers.
func (f *Fanout) Dropped() int64 {
	return f.dropped.Load()
}

// SubscriberCount reports active subscriptions, firehose included.
func (f *Fanout) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := len(f.all)
	for _, subs := range f.sessions {
		n += len(subs)
	}
	return n
}

// Close closes every subscriber channel. Publish and Subscribe after
// Close are no-ops.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, subs := range f.sessions {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	for _, sub := range f.all {
		close(sub.ch)
	}
	f.sessions = make(map[string]map[int]*subscriber)
	f.all = make(map[int]*subscriber)
}
