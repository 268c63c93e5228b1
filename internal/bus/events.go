package bus

// Canonical event names published by the services and forwarded on the live
// stream. The broadcast layer subscribes to exactly this set.
const (
	EventRowCreated          = "row.created"
	EventRowUpdated          = "row.updated"
	EventSuggestionCreated   = "suggestion.created"
	EventSuggestionResolved  = "suggestion.resolved"
	EventReminderCreated     = "reminder.created"
	EventPlanUpdated         = "plan.updated"
	EventActivityCreated     = "activity.created"
	EventChatMessage         = "chat.message"
	EventNotificationCreated = "notification.created"
	EventInsightReady        = "insight.ready"
	EventStatsUpdated        = "stats.updated"
)

// StreamedEvents lists every event name a live connection may receive, in the
// order gateways subscribe to them.
func StreamedEvents() []string {
	return []string{
		EventRowCreated,
		EventRowUpdated,
		EventSuggestionCreated,
		EventSuggestionResolved,
		EventReminderCreated,
		EventPlanUpdated,
		EventActivityCreated,
		EventChatMessage,
		EventNotificationCreated,
		EventInsightReady,
		EventStatsUpdated,
	}
}
