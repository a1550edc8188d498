package telemetry

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Next once the hub has been closed and drained.
var ErrClosed = errors.New("telemetry: feed closed")

// Hub broadcasts values to any number of subscribers. Each subscriber owns a
// bounded buffer; when it is full the oldest value is dropped so a slow reader
// always sees the most recent readings in publish order.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	buffer int
	latest T
	has    bool
	closed bool
}

// NewHub creates a hub whose subscriptions buffer up to buffer values.
func NewHub[T any](buffer int) *Hub[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub[T]{subs: make(map[*Subscription[T]]struct{}), buffer: buffer}
}

// Publish delivers v to every subscriber without blocking.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.latest, h.has = v, true
	for s := range h.subs {
		s.offer(v)
	}
}

// Latest returns the most recently published value.
func (h *Hub[T]) Latest() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest, h.has
}

// Subscribe registers a new subscription. Values published before the call
// are not replayed.
func (h *Hub[T]) Subscribe() *Subscription[T] {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &Subscription[T]{hub: h, ch: make(chan T, h.buffer)}
	if h.closed {
		close(s.ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Close ends every subscription. Buffered values remain readable.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
		delete(h.subs, s)
	}
}

// Subscription is a pull-based view on a Hub.
type Subscription[T any] struct {
	hub *Hub[T]
	ch  chan T
}

// offer is called with the hub lock held.
func (s *Subscription[T]) offer(v T) {
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// Next blocks until a value is available, the hub closes or ctx is done.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-s.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, context.Cause(ctx)
	}
}

// C exposes the underlying channel for select loops.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Close detaches the subscription from its hub.
func (s *Subscription[T]) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if _, ok := s.hub.subs[s]; ok {
		delete(s.hub.subs, s)
		close(s.ch)
	}
}
