package events

import (
	"log/slog"
	"sync"

	"importq/internal/logging"
)

const defaultSubscriberBuffer = 64

// Bus fans events out to subscribers. Each subscriber gets its own buffered
// channel; events are appended to every channel under the bus lock, so the
// order seen by any subscriber equals publish order. A subscriber that falls
// behind loses the oldest queued event rather than blocking publishers.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]*Subscription
	nextID      int
	closed      bool
	logger      *slog.Logger
}

// Subscription is one subscriber's ordered event stream.
type Subscription struct {
	bus     *Bus
	id      int
	ch      chan Event
	dropped int64
}

// NewBus constructs an event bus. A nil logger disables drop warnings.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bus{
		subscribers: make(map[int]*Subscription),
		logger:      logger.With(logging.String(logging.FieldComponent, "events")),
	}
}

// Subscribe registers a new subscriber. buffer <= 0 uses the default.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		bus: b,
		id:  b.nextID,
		ch:  make(chan Event, buffer),
	}
	b.nextID++
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subscribers[sub.id] = sub
	return sub
}

// Publish delivers the event to all current subscribers in order.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		sub.offer(event, b.logger)
	}
}

func (s *Subscription) offer(event Event, logger *slog.Logger) {
	for {
		select {
		case s.ch <- event:
			return
		default:
		}
		// Buffer full: evict the oldest event to make room so the stream
		// stays ordered and recent.
		select {
		case <-s.ch:
			s.dropped++
			if s.dropped == 1 || s.dropped%100 == 0 {
				logger.Warn("subscriber falling behind, dropping oldest events",
					logging.Alert("event_subscriber_lag"),
					logging.Int64("dropped_total", s.dropped))
			}
		default:
		}
	}
}

// Events returns the subscriber's channel. It is closed when the
// subscription or the bus is closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped reports how many events were evicted because the subscriber
// fell behind.
func (s *Subscription) Dropped() int64 {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.dropped
}

// Close removes the subscription from the bus and closes its channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subscribers[s.id]; !ok {
		return
	}
	delete(s.bus.subscribers, s.id)
	close(s.ch)
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}
