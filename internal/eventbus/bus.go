// Package eventbus provides the pub/sub primitive the Manager uses for
// its message bus and event bus (spec §4.9, §5). It generalizes the
// teacher's internal/event.Bus — a single global watermill-backed bus
// keyed by a string EventType — into an instance-owned, generic bus so
// the Manager can hold two independently lifecycled buses (message,
// event) plus a third narrow one (session-end) without a shared global.
//
// Unlike the teacher's Bus, delivery here is direct in-process dispatch,
// not routed through watermill: spec §5's ordering guarantee requires
// events within one turn to be delivered in emission order, which a
// channel-backed pub/sub can't promise across subscribers with
// different goroutine scheduling latencies. The watermill dependency
// this package's predecessor carried decoratively now does real queueing
// work in internal/pushadapter instead, where deliveries are genuinely
// async and order-independent across destinations.
package eventbus

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Bus is a typed, multi-subscriber fan-out channel. The zero value is
// not usable; construct with New.
type Bus[T any] struct {
	mu          sync.RWMutex
	subscribers map[uint64]func(T)
	nextID      uint64
	closed      bool
}

// New creates a Bus for payload type T.
func New[T any]() *Bus[T] {
	return &Bus[T]{
		subscribers: make(map[uint64]func(T)),
	}
}

// Subscribe registers fn and returns an unsubscribe closure. The
// unsubscribe closure is idempotent and safe to call more than once.
func (b *Bus[T]) Subscribe(fn func(T)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := atomic.AddUint64(&b.nextID, 1)
	b.subscribers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers v to every current subscriber synchronously, in
// registration order. Synchronous delivery is required by spec §5's
// ordering guarantee that events within a single turn are delivered in
// emission order — an async fan-out (as the teacher's Bus.Publish does)
// would not guarantee that across subscribers with different goroutine
// scheduling latencies.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	ids := make([]uint64, 0, len(b.subscribers))
	for id := range b.subscribers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subscribers[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Count returns the current subscriber count. Used by listener-hygiene
// tests (spec §9's "counted-listener invariant").
func (b *Bus[T]) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close tears down the bus; subsequent Publish/Subscribe calls are no-ops.
func (b *Bus[T]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscribers = make(map[uint64]func(T))
	return nil
}
