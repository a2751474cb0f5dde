package bus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published on the bus.
const (
	// EventStateChanged fires when an entity's state or attributes change.
	EventStateChanged = "state_changed"

	// EventConfigEntryChanged fires when a config entry is created, reloaded,
	// updated or removed.
	EventConfigEntryChanged = "config_entry_changed"

	// EventServiceCalled fires for every service call, successful or not.
	EventServiceCalled = "service_called"

	// EventIntegrationDiscovered fires when an integration reports a
	// device that has no config entry yet.
	EventIntegrationDiscovered = "integration_discovered"
)

// Event is a single bus event.
type Event struct {
	Type string         `json:"type"`
	Time time.Time      `json:"time"`
	Data map[string]any `json:"data"`
}

// subscriberBufferSize is the per-subscriber channel depth. Slow consumers
// drop events rather than blocking publishers.
const subscriberBufferSize = 64

// subscriber is one registered listener.
type subscriber struct {
	id        int
	eventType string // "" matches all event types
	ch        chan Event
}

// Bus is an in-process event dispatcher.
//
// Publish never blocks: each subscriber has a buffered channel, and events
// that cannot be buffered are counted as dropped. All methods are safe for
// concurrent use.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]*subscriber
	dropped atomic.Int64
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscriber),
	}
}

// Subscribe registers a listener for the given event type. An empty
// eventType subscribes to all events.
//
// The returned channel receives matching events; the returned function
// unsubscribes and closes the channel. Unsubscribe exactly once.
func (b *Bus) Subscribe(eventType string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	sub := &subscriber{
		id:        id,
		eventType: eventType,
		ch:        make(chan Event, subscriberBufferSize),
	}
	b.subs[id] = sub

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}

	return sub.ch, unsubscribe
}

// Publish delivers an event to all matching subscribers.
//
// The event time is set if zero. Delivery is best-effort: subscribers with
// a full buffer miss the event, and the drop is counted.
func (b *Bus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.eventType != "" && sub.eventType != event.Type {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the number of events dropped due to full subscriber buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
