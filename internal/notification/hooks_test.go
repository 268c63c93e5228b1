package notification

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/northcove/compass/backend/internal/bus"
	"github.com/northcove/compass/backend/internal/conversation"
	"gorm.io/gorm"
)

type hookClock struct {
	now time.Time
}

func (c *hookClock) Now() time.Time {
	return c.now
}

func newHookFixture(t *testing.T) (*conversation.Service, *Service, *bus.Bus, *hookClock, func()) {
	t.Helper()

	dsn := fmt.Sprintf("file:compass_hooks_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&conversation.Conversation{}, &conversation.Participant{},
		&conversation.ChatMessage{}, &conversation.MentoringPlan{},
		&Notification{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &hookClock{now: time.Unix(1700000000, 0).UTC()}
	eventBus := bus.New()
	conversations, err := conversation.NewService(conversation.ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDGenerator{},
		Bus:        eventBus,
	})
	if err != nil {
		t.Fatalf("failed to construct conversation service: %v", err)
	}
	notifier, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDGenerator{},
		Bus:        eventBus,
	})
	if err != nil {
		t.Fatalf("failed to construct notification service: %v", err)
	}

	detach, err := AttachHooks(HooksConfig{
		Bus:           eventBus,
		Conversations: conversations,
		Notifier:      notifier,
	})
	if err != nil {
		t.Fatalf("failed to attach hooks: %v", err)
	}
	return conversations, notifier, eventBus, clock, detach
}

func TestChatHookNotifiesAwayCounterpart(t *testing.T) {
	conversations, notifier, _, _, detach := newHookFixture(t)
	defer detach()
	ctx := context.Background()

	conv, err := conversations.EnsureActive(ctx, "mentor-1", "mentee-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The mentee has no presence record at all, so they count as away.
	if _, err := conversations.SendMessage(ctx, conv.ID, "mentor-1", "checking in"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	listed, err := notifier.List(ctx, "mentee-1", ListFilter{UnreadOnly: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listed) != 1 || listed[0].Type != TypeChatMessage {
		t.Fatalf("expected one chat notification, got %#v", listed)
	}
	if listed[0].Meta["senderId"] != "mentor-1" {
		t.Fatalf("unexpected meta: %#v", listed[0].Meta)
	}
}

func TestChatHookSuppressesForPresentCounterpart(t *testing.T) {
	conversations, notifier, _, _, detach := newHookFixture(t)
	defer detach()
	ctx := context.Background()

	conv, err := conversations.EnsureActive(ctx, "mentor-1", "mentee-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A fresh heartbeat puts the mentee inside the away threshold.
	if err := conversations.Touch(ctx, conv.ID, "mentee-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := conversations.SendMessage(ctx, conv.ID, "mentor-1", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	listed, err := notifier.List(ctx, "mentee-1", ListFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected suppression for present counterpart, got %#v", listed)
	}
}

func TestPlanHookTargetsOppositeRole(t *testing.T) {
	conversations, notifier, _, _, detach := newHookFixture(t)
	defer detach()
	ctx := context.Background()

	conv, err := conversations.EnsureActive(ctx, "mentor-1", "mentee-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := conversations.UpdatePlan(ctx, conv.ID, "weekly goals", conversation.RoleMentee); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mentorInbox, err := notifier.List(ctx, "mentor-1", ListFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mentorInbox) != 1 || mentorInbox[0].Type != TypePlanUpdated {
		t.Fatalf("expected plan notification for mentor, got %#v", mentorInbox)
	}
	menteeInbox, err := notifier.List(ctx, "mentee-1", ListFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(menteeInbox) != 0 {
		t.Fatalf("expected no notification for the acting side, got %#v", menteeInbox)
	}
}

func TestDetachStopsHookDelivery(t *testing.T) {
	conversations, notifier, _, _, detach := newHookFixture(t)
	ctx := context.Background()

	conv, err := conversations.EnsureActive(ctx, "mentor-1", "mentee-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	detach()
	if _, err := conversations.SendMessage(ctx, conv.ID, "mentor-1", "into the void"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	listed, err := notifier.List(ctx, "mentee-1", ListFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected no delivery after detach, got %#v", listed)
	}
}
