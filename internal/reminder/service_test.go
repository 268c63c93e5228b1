package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/northcove/compass/backend/internal/apperr"
	"github.com/northcove/compass/backend/internal/bus"
	"github.com/northcove/compass/backend/internal/conversation"
	"github.com/northcove/compass/backend/internal/notification"
	"gorm.io/gorm"
)

type sequenceIDGenerator struct {
	prefix string
	next   int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type fixture struct {
	reminders     *Service
	conversations *conversation.Service
	notifications *notification.Service
	bus           *bus.Bus
	clock         *testClock
	db            *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:compass_reminder_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&conversation.Conversation{}, &conversation.Participant{},
		&conversation.ChatMessage{}, &conversation.MentoringPlan{},
		&notification.Notification{}, &Reminder{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &testClock{now: time.Unix(1700000000, 0).UTC()}
	eventBus := bus.New()

	conversations, err := conversation.NewService(conversation.ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDGenerator{prefix: "conv"},
		Bus:        eventBus,
	})
	if err != nil {
		t.Fatalf("failed to construct conversation service: %v", err)
	}
	notifications, err := notification.NewService(notification.ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDGenerator{prefix: "notif"},
		Bus:        eventBus,
	})
	if err != nil {
		t.Fatalf("failed to construct notification service: %v", err)
	}
	reminders, err := NewService(ServiceConfig{
		Database:      db,
		Clock:         clock.Now,
		IDProvider:    &sequenceIDGenerator{prefix: "rem"},
		Bus:           eventBus,
		Conversations: conversations,
		Notifier:      notifications,
	})
	if err != nil {
		t.Fatalf("failed to construct reminder service: %v", err)
	}
	return &fixture{
		reminders:     reminders,
		conversations: conversations,
		notifications: notifications,
		bus:           eventBus,
		clock:         clock,
		db:            db,
	}
}

func (f *fixture) mustConversation(t *testing.T) conversation.Conversation {
	t.Helper()
	conv, err := f.conversations.EnsureActive(context.Background(), "mentor-1", "mentee-1")
	if err != nil {
		t.Fatalf("failed to create conversation: %v", err)
	}
	return conv
}

func TestCreatePublishesAndValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.mustConversation(t)

	var events []bus.Event
	f.bus.Subscribe(bus.EventReminderCreated, func(e bus.Event) {
		events = append(events, e)
	})

	due := f.clock.Now().Add(time.Hour).Unix()
	record, err := f.reminders.Create(ctx, conv.ID, "row-1", TypeFollowUp, due)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", record.Status)
	}
	if len(events) != 1 || events[0].Payload["reminderId"] != record.ID {
		t.Fatalf("expected one created event for %s, got %#v", record.ID, events)
	}

	if _, err := f.reminders.Create(ctx, conv.ID, "", Type("someday"), due); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}
	if _, err := f.reminders.Create(ctx, conv.ID, "", TypeInterview, 0); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for zero due time, got %v", err)
	}
}

func TestSweepNotifiesBothParticipantsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.mustConversation(t)

	due := f.clock.Now().Add(30 * time.Minute).Unix()
	record, err := f.reminders.Create(ctx, conv.ID, "row-1", TypeInterview, due)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.reminders.Create(ctx, conv.ID, "", TypeFollowUp, f.clock.Now().Add(48*time.Hour).Unix()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Nothing due yet.
	result, err := f.reminders.Sweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalDue != 0 || result.Processed != 0 {
		t.Fatalf("expected empty sweep, got %+v", result)
	}

	f.clock.Advance(time.Hour)
	result, err = f.reminders.Sweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalDue != 1 || result.Processed != 1 || result.Errors != 0 {
		t.Fatalf("unexpected sweep result: %+v", result)
	}

	for _, recipient := range []string{"mentor-1", "mentee-1"} {
		listed, err := f.notifications.List(ctx, recipient, notification.ListFilter{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(listed) != 1 {
			t.Fatalf("expected one notification for %s, got %d", recipient, len(listed))
		}
		if listed[0].Type != notification.TypeReminderDue {
			t.Fatalf("unexpected notification type: %s", listed[0].Type)
		}
		if listed[0].Meta["reminderId"] != record.ID || listed[0].Meta["rowId"] != "row-1" {
			t.Fatalf("unexpected notification meta: %#v", listed[0].Meta)
		}
	}

	// Already triggered: a second sweep finds nothing due.
	result, err = f.reminders.Sweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalDue != 0 || result.Processed != 0 {
		t.Fatalf("expected second sweep to be empty, got %+v", result)
	}
	listed, err := f.notifications.List(ctx, "mentee-1", notification.ListFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected no duplicate notifications, got %d", len(listed))
	}
}

func TestSweepSkipsMissingConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.mustConversation(t)

	due := f.clock.Now().Unix()
	orphan, err := f.reminders.Create(ctx, "conv-gone", "", TypeThankYou, due)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	healthy, err := f.reminders.Create(ctx, conv.ID, "", TypeFollowUp, due)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := f.reminders.Sweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalDue != 2 || result.Processed != 1 || result.Errors != 1 {
		t.Fatalf("unexpected sweep result: %+v", result)
	}

	// The orphan is claimed and never retried.
	reloaded, err := f.reminders.Get(ctx, orphan.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reloaded.Status != StatusTriggered {
		t.Fatalf("expected orphan to stay triggered, got %s", reloaded.Status)
	}

	listed, err := f.notifications.List(ctx, "mentor-1", notification.ListFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listed) != 1 || listed[0].Meta["reminderId"] != healthy.ID {
		t.Fatalf("expected exactly the healthy reminder's notification, got %#v", listed)
	}
}

func TestListOrdersBySoonestDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.mustConversation(t)

	later, err := f.reminders.Create(ctx, conv.ID, "", TypeFollowUp, f.clock.Now().Add(2*time.Hour).Unix())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sooner, err := f.reminders.Create(ctx, conv.ID, "", TypeInterview, f.clock.Now().Add(time.Hour).Unix())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	listed, err := f.reminders.List(ctx, conv.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != sooner.ID || listed[1].ID != later.ID {
		t.Fatalf("unexpected ordering: %#v", listed)
	}
}

func TestBuildCalendarIsDeterministic(t *testing.T) {
	record := Reminder{
		ID:               "rem-42",
		ConversationID:   "conv-1",
		Type:             TypeInterview,
		DueAtSeconds:     time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC).Unix(),
		CreatedAtSeconds: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Unix(),
	}

	first := BuildCalendar(record)
	second := BuildCalendar(record)
	if first != second {
		t.Fatal("expected identical output across exports")
	}

	for _, want := range []string{
		"UID:reminder-rem-42@compass\r\n",
		"DTSTART:20240315T093000Z\r\n",
		"DTSTAMP:20240301T120000Z\r\n",
		"SUMMARY:Interview coming up\r\n",
		"TRIGGER:-PT15M\r\n",
	} {
		if !strings.Contains(first, want) {
			t.Fatalf("calendar missing %q:\n%s", want, first)
		}
	}
	if !strings.HasSuffix(first, "END:VCALENDAR\r\n") {
		t.Fatalf("calendar must end with END:VCALENDAR, got:\n%s", first)
	}
}

func TestEscapeText(t *testing.T) {
	escaped := escapeText("a,b;c\\d\ne")
	if escaped != "a\\,b\\;c\\\\d\\ne" {
		t.Fatalf("unexpected escaping: %q", escaped)
	}
}
