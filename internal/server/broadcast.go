package server

import (
	"context"
	"sync"

	"github.com/northcove/compass/backend/internal/bus"
)

const streamBufferSize = 16

// Broadcaster bridges the in-process event bus to live HTTP connections. It
// holds one subscription per streamed event name and fans each event out to
// the connections watching that conversation. Sends are non-blocking: a slow
// consumer drops events instead of stalling the publisher.
type Broadcaster struct {
	mu          sync.RWMutex
	connections map[string]map[int64]*streamConnection
	nextID      int64
	bufferSize  int
	busUnsubs   []func()
	closed      bool
}

type streamConnection struct {
	id             int64
	conversationID string
	stream         chan bus.Event
}

// NewBroadcaster subscribes to the full streamed event set on the bus.
func NewBroadcaster(eventBus *bus.Bus) *Broadcaster {
	b := &Broadcaster{
		connections: make(map[string]map[int64]*streamConnection),
		bufferSize:  streamBufferSize,
	}
	if eventBus != nil {
		for _, name := range bus.StreamedEvents() {
			b.busUnsubs = append(b.busUnsubs, eventBus.Subscribe(name, b.dispatch))
		}
	}
	return b
}

// Subscribe registers a live connection for one conversation. The returned
// channel closes only through the cleanup function; callers also get cleanup
// invoked automatically when ctx ends.
func (b *Broadcaster) Subscribe(ctx context.Context, conversationID string) (<-chan bus.Event, func()) {
	if conversationID == "" {
		ch := make(chan bus.Event)
		close(ch)
		return ch, func() {}
	}
	connection := &streamConnection{
		id:             b.nextSequence(),
		conversationID: conversationID,
		stream:         make(chan bus.Event, b.bufferSize),
	}
	b.register(connection)
	cleanup := func() {
		b.unregister(connection)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return connection.stream, cleanup
}

// ConnectionCount reports the live connections for a conversation.
func (b *Broadcaster) ConnectionCount(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.connections[conversationID])
}

// Close detaches the broadcaster from the bus. Existing connections stop
// receiving events but their channels stay open until each one unsubscribes.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	unsubs := b.busUnsubs
	b.busUnsubs = nil
	b.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (b *Broadcaster) dispatch(event bus.Event) {
	if event.ConversationID == "" {
		return
	}
	b.mu.RLock()
	watchers := b.connections[event.ConversationID]
	if len(watchers) == 0 {
		b.mu.RUnlock()
		return
	}
	copies := make([]*streamConnection, 0, len(watchers))
	for _, connection := range watchers {
		copies = append(copies, connection)
	}
	b.mu.RUnlock()

	for _, connection := range copies {
		select {
		case connection.stream <- event:
		default:
		}
	}
}

func (b *Broadcaster) nextSequence() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

func (b *Broadcaster) register(connection *streamConnection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.connections[connection.conversationID]; !ok {
		b.connections[connection.conversationID] = make(map[int64]*streamConnection)
	}
	b.connections[connection.conversationID][connection.id] = connection
}

func (b *Broadcaster) unregister(connection *streamConnection) {
	b.mu.Lock()
	watchers := b.connections[connection.conversationID]
	if watchers != nil {
		delete(watchers, connection.id)
		if len(watchers) == 0 {
			delete(b.connections, connection.conversationID)
		}
	}
	b.mu.Unlock()
}
