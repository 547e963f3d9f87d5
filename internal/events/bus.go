// Package events distributes coordinator lifecycle events to subscribers.
package events

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/benaskins/staticd/internal/coordinator"
)

// ErrClosed is returned by Subscribe after the bus is closed.
var ErrClosed = errors.New("event bus closed")

// DefaultBuffer is the subscription buffer used when Subscribe is given n <= 0.
const DefaultBuffer = 16

// Bus fans events out to subscribers. Emit never blocks: a subscriber that
// falls behind loses its oldest queued event.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
	logger *slog.Logger
}

// Subscription receives events on C until it or the bus is closed.
type Subscription struct {
	C <-chan coordinator.Event

	ch      chan coordinator.Event
	bus     *Bus
	dropped uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: slog.With("component", "events"),
	}
}

// Subscribe registers a new subscriber with a buffer of n events.
func (b *Bus) Subscribe(n int) (*Subscription, error) {
	if n <= 0 {
		n = DefaultBuffer
	}
	ch := make(chan coordinator.Event, n)
	s := &Subscription{C: ch, ch: ch, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.subs[s] = struct{}{}
	return s, nil
}

// Emit implements coordinator.EventSink.
func (b *Bus) Emit(e coordinator.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		select {
		case s.ch <- e:
			continue
		default:
		}
		// Full: drop the oldest and retry. Only Emit sends, under mu, so the
		// second send always has room.
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
		select {
		case s.ch <- e:
		default:
		}
	}
	b.logger.Debug("event published", "correlation_id", e.CorrelationID, "event", string(e.Signal), "subscribers", len(b.subs))
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription. Later Emits are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
}

// Dropped returns how many events were discarded because C was full.
func (s *Subscription) Dropped() uint64 {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.dropped
}
