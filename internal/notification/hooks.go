package notification

import (
	"context"
	"fmt"

	"github.com/northcove/compass/backend/internal/bus"
	"github.com/northcove/compass/backend/internal/conversation"
	"go.uber.org/zap"
)

// HooksConfig wires the bus-driven notification fan-out.
type HooksConfig struct {
	Bus           *bus.Bus
	Conversations *conversation.Service
	Notifier      *Service
	Logger        *zap.Logger
}

// AttachHooks subscribes to the collaborative events and raises a durable
// notification for the counterpart, but only while they are away: a
// participant with the conversation open sees the change arrive on the live
// stream and needs no extra ping. Returns a detach function.
func AttachHooks(cfg HooksConfig) (func(), error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("notification hooks: bus is required")
	}
	if cfg.Conversations == nil {
		return nil, fmt.Errorf("notification hooks: conversation service is required")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("notification hooks: notifier is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	hooks := &eventHooks{
		conversations: cfg.Conversations,
		notifier:      cfg.Notifier,
		logger:        logger,
	}

	unsubs := []func(){
		cfg.Bus.Subscribe(bus.EventChatMessage, hooks.onChatMessage),
		cfg.Bus.Subscribe(bus.EventSuggestionCreated, hooks.onSuggestionCreated),
		cfg.Bus.Subscribe(bus.EventSuggestionResolved, hooks.onSuggestionResolved),
		cfg.Bus.Subscribe(bus.EventPlanUpdated, hooks.onPlanUpdated),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}, nil
}

type eventHooks struct {
	conversations *conversation.Service
	notifier      *Service
	logger        *zap.Logger
}

func (h *eventHooks) onChatMessage(event bus.Event) {
	senderID, _ := event.Payload["senderId"].(string)
	if senderID == "" {
		return
	}
	ctx := context.Background()
	recipientID, err := h.conversations.CounterpartOf(ctx, event.ConversationID, senderID)
	if err != nil {
		h.logHookError(event, err)
		return
	}
	body, _ := event.Payload["body"].(string)
	h.notifyIfAway(event, recipientID, TypeChatMessage, "New message", body, Meta{
		"senderId": senderID,
	})
}

func (h *eventHooks) onSuggestionCreated(event bus.Event) {
	proposedBy, _ := event.Payload["proposedBy"].(string)
	recipientID, ok := h.userWithOtherRole(event, conversation.Role(proposedBy))
	if !ok {
		return
	}
	field, _ := event.Payload["field"].(string)
	suggestionID, _ := event.Payload["suggestionId"].(string)
	rowID, _ := event.Payload["rowId"].(string)
	h.notifyIfAway(event, recipientID, TypeSuggestionCreated, "New suggestion",
		fmt.Sprintf("Your mentor suggested a change to %s.", field), Meta{
			"suggestionId": suggestionID,
			"rowId":        rowID,
		})
}

func (h *eventHooks) onSuggestionResolved(event bus.Event) {
	resolvedBy, _ := event.Payload["resolvedBy"].(string)
	recipientID, ok := h.userWithOtherRole(event, conversation.Role(resolvedBy))
	if !ok {
		return
	}
	status, _ := event.Payload["status"].(string)
	suggestionID, _ := event.Payload["suggestionId"].(string)
	h.notifyIfAway(event, recipientID, TypeSuggestionResolved, "Suggestion "+status, "", Meta{
		"suggestionId": suggestionID,
	})
}

func (h *eventHooks) onPlanUpdated(event bus.Event) {
	updatedBy, _ := event.Payload["updatedBy"].(string)
	recipientID, ok := h.userWithOtherRole(event, conversation.Role(updatedBy))
	if !ok {
		return
	}
	h.notifyIfAway(event, recipientID, TypePlanUpdated, "Mentoring plan updated", "", nil)
}

// userWithOtherRole resolves the participant on the opposite side of the
// acting role.
func (h *eventHooks) userWithOtherRole(event bus.Event, actingRole conversation.Role) (string, bool) {
	conv, err := h.conversations.Get(context.Background(), event.ConversationID)
	if err != nil {
		h.logHookError(event, err)
		return "", false
	}
	switch actingRole {
	case conversation.RoleMentor:
		return conv.MenteeID, true
	case conversation.RoleMentee:
		return conv.MentorID, true
	default:
		return "", false
	}
}

func (h *eventHooks) notifyIfAway(event bus.Event, recipientID string, kind Type, title, body string, meta Meta) {
	ctx := context.Background()
	away, err := h.conversations.IsAway(ctx, event.ConversationID, recipientID)
	if err != nil {
		h.logHookError(event, err)
		return
	}
	if !away {
		// Present on the live stream; suppress the push-style record.
		return
	}
	link := fmt.Sprintf("/conversations/%s", event.ConversationID)
	if _, err := h.notifier.Notify(ctx, recipientID, event.ConversationID, kind, title, body, link, meta); err != nil {
		h.logHookError(event, err)
	}
}

func (h *eventHooks) logHookError(event bus.Event, err error) {
	h.logger.Error("notification hook failed",
		zap.String("event", event.Name),
		zap.String("conversation_id", event.ConversationID),
		zap.Error(err))
}
