package events

import "sync"

// Handler receives one published event. Handlers are invoked synchronously
// on the publisher's goroutine and must not block; transports that need
// buffering enqueue and return.
type Handler func(event interface{})

// Bus is a process-wide publish/subscribe router keyed by Topic. It decouples
// batch coordinators from the notification transport. There is no buffering:
// a handler subscribed after a publish never receives that event.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[Topic]map[uint64]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[Topic]map[uint64]Handler)}
}

// Subscribe registers a handler for a topic and returns its unsubscribe
// function. Unsubscribing is idempotent and safe after the topic has gone
// quiet; removing the last handler prunes the topic entry entirely.
func (b *Bus) Subscribe(topic Topic, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID

	handlers, ok := b.topics[topic]
	if !ok {
		handlers = make(map[uint64]Handler)
		b.topics[topic] = handlers
	}
	handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if handlers, ok := b.topics[topic]; ok {
				delete(handlers, id)
				if len(handlers) == 0 {
					delete(b.topics, topic)
				}
			}
		})
	}
}

// Publish delivers the event to every handler currently subscribed to the
// topic, in an order stable with respect to subscription id. Delivery happens
// over a snapshot of the registry, so a concurrent unsubscribe does not
// disturb a publish already in flight; a handler may still see one event that
// was being delivered at the instant it unsubscribed.
func (b *Bus) Publish(topic Topic, event interface{}) {
	b.mu.RLock()
	handlers := b.topics[topic]
	snapshot := make([]Handler, 0, len(handlers))
	ids := make([]uint64, 0, len(handlers))
	for id := range handlers {
		ids = append(ids, id)
	}
	// Map iteration order is random; deliver in subscription order.
	sortIDs(ids)
	for _, id := range ids {
		snapshot = append(snapshot, handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range snapshot {
		h(event)
	}
}

// SubscriberCount returns the number of handlers registered for a topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func sortIDs(ids []uint64) {
	// Insertion sort; subscriber counts per topic are small.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}
