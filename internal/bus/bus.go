package bus

import "sync"

// Event is the envelope carried between services and the broadcast layer.
// ConversationID scopes delivery; Payload holds event-specific fields that are
// flattened into the wire envelope alongside the name.
type Event struct {
	Name           string
	ConversationID string
	Payload        map[string]any
}

// Handler receives a published event. Handlers run synchronously under the
// publisher's goroutine and must not block.
type Handler func(Event)

type subscription struct {
	id      int64
	handler Handler
}

// Bus is an in-process publish/subscribe router keyed by event name.
// Fan-out is synchronous and follows subscriber-registration order. There is
// no buffering: a subscriber registered after a publish never sees it, and
// delivery never crosses process boundaries.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscription
	nextID int64
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{topics: make(map[string][]subscription)}
}

// Subscribe registers a handler for the named event and returns an
// unsubscribe function. Unsubscribing twice is harmless.
func (b *Bus) Subscribe(name string, handler Handler) func() {
	if name == "" || handler == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.topics[name] = append(b.topics[name], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.topics[name]
		for i, sub := range subs {
			if sub.id == id {
				b.topics[name] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.topics[name]) == 0 {
			delete(b.topics, name)
		}
	}
}

// Publish delivers the event to every current subscriber of its name, in
// registration order.
func (b *Bus) Publish(event Event) {
	if event.Name == "" {
		return
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.topics[event.Name]))
	copy(subs, b.topics[event.Name])
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(event)
	}
}
