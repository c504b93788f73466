package events

import (
	"sync"
)

// Subscription receives every value published after it was created.
// C is closed when the subscriber is cancelled, dropped for falling
// behind, or when the broadcaster shuts down.
type Subscription[T any] struct {
	C <-chan T

	ch      chan T
	b       *Broadcaster[T]
	closed  bool // guarded by b.mu
	dropped bool // guarded by b.mu
}

// Cancel unregisters the subscription. Safe to call more than once and
// concurrently with Publish.
func (s *Subscription[T]) Cancel() {
	s.b.remove(s, false)
}

// Dropped reports whether the subscription was closed for falling behind
// rather than by Cancel or broadcaster shutdown.
func (s *Subscription[T]) Dropped() bool {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.dropped
}

// Broadcaster fans values out to any number of subscribers. Each subscriber
// owns a buffered channel; Publish never blocks on a slow reader. A reader
// whose buffer is full is disconnected instead.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	buffer int
	closed bool

	// Hooks run with the broadcaster lock held and must not call back into it.
	// OnDrop fires when a slow subscriber is disconnected.
	OnDrop        func()
	OnSubscribe   func()
	OnUnsubscribe func()
}

// NewBroadcaster creates a broadcaster giving each subscriber a buffer of
// the given size.
func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster[T]{
		subs:   make(map[*Subscription[T]]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. No past values are replayed.
// Subscribing to a closed broadcaster yields an already-closed subscription.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	return b.SubscribeSize(b.buffer)
}

// SubscribeSize is Subscribe with a buffer of n instead of the default.
func (b *Broadcaster[T]) SubscribeSize(n int) *Subscription[T] {
	if n < 1 {
		n = 1
	}
	ch := make(chan T, n)
	s := &Subscription[T]{C: ch, ch: ch, b: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closed = true
		close(ch)
		return s
	}
	b.subs[s] = struct{}{}
	if b.OnSubscribe != nil {
		b.OnSubscribe()
	}
	return s
}

// Publish delivers v to every current subscriber without blocking.
// Callers must serialize Publish to get a single global order.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		select {
		case s.ch <- v:
		default:
			b.removeLocked(s, true)
		}
	}
}

// Len returns the number of active subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close disconnects every subscriber. Later Publish calls are no-ops.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		b.removeLocked(s, false)
	}
}

func (b *Broadcaster[T]) remove(s *Subscription[T], dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(s, dropped)
}

func (b *Broadcaster[T]) removeLocked(s *Subscription[T], dropped bool) {
	if s.closed {
		return
	}
	s.closed = true
	s.dropped = dropped
	delete(b.subs, s)
	close(s.ch)
	if b.OnUnsubscribe != nil {
		b.OnUnsubscribe()
	}
	if dropped && b.OnDrop != nil {
		b.OnDrop()
	}
}
