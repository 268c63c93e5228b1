package bus

import "testing"

func TestPublishFansOutInRegistrationOrder(t *testing.T) {
	eventBus := New()

	var order []string
	eventBus.Subscribe("row.updated", func(Event) {
		order = append(order, "first")
	})
	eventBus.Subscribe("row.updated", func(Event) {
		order = append(order, "second")
	})
	eventBus.Subscribe("row.updated", func(Event) {
		order = append(order, "third")
	})

	eventBus.Publish(Event{Name: "row.updated", ConversationID: "conv-1"})

	if len(order) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(order))
	}
	if order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("unexpected delivery order: %v", order)
	}
}

func TestSubscribeAfterPublishSeesNothing(t *testing.T) {
	eventBus := New()
	eventBus.Publish(Event{Name: "reminder.created"})

	delivered := 0
	eventBus.Subscribe("reminder.created", func(Event) {
		delivered++
	})
	if delivered != 0 {
		t.Fatalf("late subscriber must not see earlier publishes, got %d", delivered)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	eventBus := New()

	delivered := 0
	unsubscribe := eventBus.Subscribe("chat.message", func(Event) {
		delivered++
	})

	eventBus.Publish(Event{Name: "chat.message"})
	unsubscribe()
	eventBus.Publish(Event{Name: "chat.message"})
	unsubscribe()
	eventBus.Publish(Event{Name: "chat.message"})

	if delivered != 1 {
		t.Fatalf("expected exactly one delivery, got %d", delivered)
	}
}

func TestPublishIsIsolatedByEventName(t *testing.T) {
	eventBus := New()

	var got []string
	eventBus.Subscribe("suggestion.created", func(e Event) {
		got = append(got, e.Name)
	})

	eventBus.Publish(Event{Name: "suggestion.resolved"})
	eventBus.Publish(Event{Name: "suggestion.created"})

	if len(got) != 1 || got[0] != "suggestion.created" {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}

func TestUnsubscribeDuringFanOutAffectsNextPublish(t *testing.T) {
	eventBus := New()

	var unsubscribeSecond func()
	first := 0
	second := 0
	eventBus.Subscribe("row.created", func(Event) {
		first++
		unsubscribeSecond()
	})
	unsubscribeSecond = eventBus.Subscribe("row.created", func(Event) {
		second++
	})

	// The snapshot taken at publish time still delivers to the second
	// subscriber; the removal applies from the next publish on.
	eventBus.Publish(Event{Name: "row.created"})
	eventBus.Publish(Event{Name: "row.created"})

	if first != 2 {
		t.Fatalf("expected first subscriber to see both publishes, got %d", first)
	}
	if second != 1 {
		t.Fatalf("expected second subscriber to see only the first publish, got %d", second)
	}
}
