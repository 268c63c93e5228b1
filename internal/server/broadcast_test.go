package server

import (
	"context"
	"testing"
	"time"

	"github.com/northcove/compass/backend/internal/bus"
)

func TestBroadcasterDeliversToConversationWatchers(t *testing.T) {
	eventBus := bus.New()
	broadcaster := NewBroadcaster(eventBus)
	defer broadcaster.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := broadcaster.Subscribe(ctx, "conv-1")
	defer cleanup()

	eventBus.Publish(bus.Event{
		Name:           bus.EventRowCreated,
		ConversationID: "conv-1",
		Payload:        map[string]any{"rowId": "row-1"},
	})

	select {
	case received := <-stream:
		if received.Name != bus.EventRowCreated {
			t.Fatalf("expected %s, got %s", bus.EventRowCreated, received.Name)
		}
		if received.Payload["rowId"] != "row-1" {
			t.Fatalf("unexpected payload: %#v", received.Payload)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event within deadline")
	}
}

func TestBroadcasterIsolatesConversations(t *testing.T) {
	eventBus := bus.New()
	broadcaster := NewBroadcaster(eventBus)
	defer broadcaster.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watching, cleanup := broadcaster.Subscribe(ctx, "conv-1")
	defer cleanup()
	other, otherCleanup := broadcaster.Subscribe(ctx, "conv-2")
	defer otherCleanup()

	eventBus.Publish(bus.Event{
		Name:           bus.EventChatMessage,
		ConversationID: "conv-2",
		Payload:        map[string]any{"body": "hi"},
	})

	select {
	case <-other:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected conv-2 watcher to receive event")
	}

	select {
	case unexpected := <-watching:
		t.Fatalf("conv-1 watcher must not receive conv-2 events, got %#v", unexpected)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcasterDropsWhenBufferFull(t *testing.T) {
	eventBus := bus.New()
	broadcaster := NewBroadcaster(eventBus)
	defer broadcaster.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := broadcaster.Subscribe(ctx, "conv-1")
	defer cleanup()

	// Nobody drains; publishing past the buffer must not block.
	for i := 0; i < streamBufferSize+8; i++ {
		eventBus.Publish(bus.Event{
			Name:           bus.EventStatsUpdated,
			ConversationID: "conv-1",
		})
	}

	drained := 0
	for {
		select {
		case <-stream:
			drained++
			continue
		default:
		}
		break
	}
	if drained != streamBufferSize {
		t.Fatalf("expected exactly the buffered events, got %d", drained)
	}
}

func TestBroadcasterCleanupViaContext(t *testing.T) {
	eventBus := bus.New()
	broadcaster := NewBroadcaster(eventBus)
	defer broadcaster.Close()

	ctx, cancel := context.WithCancel(context.Background())
	_, cleanup := broadcaster.Subscribe(ctx, "conv-1")
	defer cleanup()

	if count := broadcaster.ConnectionCount("conv-1"); count != 1 {
		t.Fatalf("expected one connection, got %d", count)
	}

	cancel()
	deadline := time.After(500 * time.Millisecond)
	for broadcaster.ConnectionCount("conv-1") != 0 {
		select {
		case <-deadline:
			t.Fatal("expected connection teardown after context cancel")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestBroadcasterCloseDetachesFromBus(t *testing.T) {
	eventBus := bus.New()
	broadcaster := NewBroadcaster(eventBus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := broadcaster.Subscribe(ctx, "conv-1")
	defer cleanup()

	broadcaster.Close()
	broadcaster.Close()

	eventBus.Publish(bus.Event{Name: bus.EventRowUpdated, ConversationID: "conv-1"})

	select {
	case unexpected := <-stream:
		t.Fatalf("expected no delivery after close, got %#v", unexpected)
	case <-time.After(50 * time.Millisecond):
	}
}
