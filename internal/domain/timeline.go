package domain

import "time"

// ActorType identifies who performed a timeline action.
type ActorType string

const (
	ActorTypeCitizen ActorType = "citizen"
	ActorTypeStaff   ActorType = "staff"
	ActorTypeAgent   ActorType = "agent"
	ActorTypeSystem  ActorType = "system"
)

// Actor pairs an actor type with its id.
type Actor struct {
	ActorType ActorType `json:"actor_type"`
	ActorID   string    `json:"actor_id"`
}

// Timeline event types.
const (
	EventTypeCreated         = "created"
	EventTypeTransition      = "transition"
	EventTypeAssigned        = "assigned"
	EventTypePriorityChanged = "priority_changed"
	EventTypeSLAEscalation   = "sla_escalation"
	EventTypeDuplicateMerged = "duplicate_merged"
	EventTypeMergedInto      = "merged_into_master"
)

// MilestoneEventType builds the event type for a field-reported milestone.
func MilestoneEventType(milestone string) string {
	return "milestone:" + milestone
}

// TimelineEvent is immutable once appended to a request's timeline.
type TimelineEvent struct {
	Type  string         `json:"type"`
	Actor Actor          `json:"by"`
	At    time.Time      `json:"at"`
	Meta  map[string]any `json:"meta"`
}

// Timeline is the ordered audit record for one request. CreatedAt is set
// once, when the first event is appended.
type Timeline struct {
	RequestID   string
	CreatedAt   *time.Time
	EventStream []TimelineEvent
}
