// Package broadcast fans engine events out to many lossy subscribers.
//
// Publishing never blocks the processor. Each subscriber has a bounded
// buffer; when it overflows, the oldest events for that subscriber are
// dropped and the subscriber learns how many it missed on its next
// receive. The broadcaster is strictly for live market-data dissemination:
// durable replay is the WAL's job.
package broadcast

import (
	"context"
	"errors"
	"sync"

	"velocity/pkg/types"
)

// ErrClosed is returned by Recv after the subscription is closed and its
// buffer is drained.
var ErrClosed = errors.New("broadcast: subscription closed")

// Broadcaster distributes engine events to subscribers. The processor is
// the sole publisher; subscribers are external adapters.
type Broadcaster struct {
	mu       sync.Mutex
	subs     map[*Subscription]struct{}
	capacity int
}

// New creates a broadcaster with the given per-subscriber buffer capacity.
func New(capacity int) *Broadcaster {
	if capacity < 1 {
		capacity = 1
	}
	return &Broadcaster{
		subs:     make(map[*Subscription]struct{}),
		capacity: capacity,
	}
}

// Subscribe registers a new subscriber. The caller must Close it when done.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{
		b:      b,
		buf:    make([]types.EngineEvent, 0, b.capacity),
		notify: make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish delivers an event to every subscriber, dropping the oldest
// buffered event of any subscriber that is full. It never blocks.
func (b *Broadcaster) Publish(event types.EngineEvent) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.push(event, b.capacity)
	}
}

// Subscribers reports the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Subscription is one subscriber's bounded event buffer.
type Subscription struct {
	b *Broadcaster

	mu      sync.Mutex
	buf     []types.EngineEvent
	dropped uint64
	closed  bool
	notify  chan struct{}
}

func (s *Subscription) push(event types.EngineEvent, capacity int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.buf) >= capacity {
		copy(s.buf, s.buf[1:])
		s.buf = s.buf[:len(s.buf)-1]
		s.dropped++
	}
	s.buf = append(s.buf, event)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Recv returns the next event and the number of events dropped for this
// subscriber since the previous receive. It blocks until an event arrives,
// the context is cancelled, or the subscription is closed and drained.
// Subscribers that cannot tolerate gaps may treat dropped > 0 as a signal
// to terminate.
func (s *Subscription) Recv(ctx context.Context) (types.EngineEvent, uint64, error) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			event := s.buf[0]
			copy(s.buf, s.buf[1:])
			s.buf = s.buf[:len(s.buf)-1]
			dropped := s.dropped
			s.dropped = 0
			s.mu.Unlock()
			return event, dropped, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, 0, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-s.notify:
		}
	}
}

// Close unregisters the subscription. Buffered events remain receivable;
// Recv returns ErrClosed once the buffer is drained.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.b.remove(s)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
