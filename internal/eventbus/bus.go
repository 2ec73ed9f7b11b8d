// Package eventbus fans AssignmentEvents out to an arbitrary number of
// live subscribers. Publish never blocks the Engine: each subscriber owns
// an independent bounded ring, and a slow subscriber has its oldest
// buffered event dropped rather than stalling the publisher. Grounded on
// the broadcast shape of a subscribe/fan-out stream, adapted here from
// ack-based replay to drop-oldest-on-overflow with no replay on join.
package eventbus

import (
	"sync"

	"fleetroute/dispatch/internal/domain"
)

// Bus is a multi-subscriber, non-blocking broadcast of AssignmentEvents.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscription
	bufferSize  int
	closed      bool
}

// Subscription is a single subscriber's view of the bus: a channel of
// events plus a running count of events this subscriber has missed due to
// buffer overflow.
type Subscription struct {
	id     string
	events chan domain.AssignmentEvent
	bus    *Bus

	mu     sync.Mutex
	missed int
}

// New constructs an empty Bus. bufferSize is the per-subscriber ring
// capacity (EVENT_BUFFER_SIZE).
func New(bufferSize int) *Bus {
	return &Bus{
		subscribers: make(map[string]*Subscription),
		bufferSize:  bufferSize,
	}
}

// Subscribe joins the bus under a fresh subscription. The subscriber sees
// only events published after this call returns; there is no replay.
func (b *Bus) Subscribe(id string) *Subscription {
	sub := &Subscription{
		id:     id,
		events: make(chan domain.AssignmentEvent, b.bufferSize),
		bus:    b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = sub
	return sub
}

// Unsubscribe removes a subscriber from the bus and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()
	if ok {
		close(sub.events)
	}
}

// Publish fans event out to every current subscriber. It never blocks: a
// subscriber whose ring is full has its oldest buffered event dropped to
// make room, and its missed counter is incremented.
func (b *Bus) Publish(event domain.AssignmentEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		sub.deliver(event)
	}
}

func (s *Subscription) deliver(event domain.AssignmentEvent) {
	select {
	case s.events <- event:
		return
	default:
	}

	// Ring is full: drop the oldest buffered event to make room, then
	// deliver the new one. The publisher never blocks on this subscriber.
	select {
	case <-s.events:
		s.mu.Lock()
		s.missed++
		s.mu.Unlock()
	default:
	}

	select {
	case s.events <- event:
	default:
		// Another goroutine drained concurrently and refilled the ring;
		// count this event as missed rather than spin.
		s.mu.Lock()
		s.missed++
		s.mu.Unlock()
	}
}

// Events returns the channel the subscriber reads from.
func (s *Subscription) Events() <-chan domain.AssignmentEvent {
	return s.events
}

// MissedCount returns and resets the number of events this subscriber has
// missed since the last call, used to attach a lag marker to the next
// delivered event.
func (s *Subscription) MissedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	missed := s.missed
	s.missed = 0
	return missed
}

// Close shuts the bus down: it marks all future Publish calls as no-ops
// and closes every subscriber channel, signalling subscribers with a
// terminal close rather than a marker event.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.events)
	}
	b.subscribers = make(map[string]*Subscription)
}

// SubscriberCount reports how many subscribers are currently joined.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
