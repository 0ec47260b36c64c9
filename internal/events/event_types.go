package events

import (
	"time"

	"github.com/spec-kit/civic-requests/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventRequestCreated         EventType = "request_created"
	EventRequestTransitioned    EventType = "request_transitioned"
	EventRequestAssigned        EventType = "request_assigned"
	EventRequestPriorityChanged EventType = "request_priority_changed"
	EventRequestMerged          EventType = "request_merged"
	EventSLAEscalated           EventType = "sla_escalated"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	RequestID string       `json:"request_id"`
	Actor     domain.Actor `json:"actor"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   interface{}  `json:"payload"`
}

// RequestCreatedPayload payload.
type RequestCreatedPayload struct {
	Category string                 `json:"category"`
	Priority domain.RequestPriority `json:"priority"`
	ZoneID   *string                `json:"zone_id,omitempty"`
}

// RequestTransitionedPayload payload.
type RequestTransitionedPayload struct {
	From domain.RequestStatus `json:"from"`
	To   domain.RequestStatus `json:"to"`
}

// RequestAssignedPayload payload.
type RequestAssignedPayload struct {
	AgentID string                  `json:"agent_id"`
	Method  domain.AssignmentMethod `json:"method"`
}

// RequestPriorityChangedPayload payload.
type RequestPriorityChangedPayload struct {
	OldPriority domain.RequestPriority `json:"old_priority"`
	NewPriority domain.RequestPriority `json:"new_priority"`
}

// RequestMergedPayload payload.
type RequestMergedPayload struct {
	DuplicateRequestID string `json:"duplicate_request_id"`
	MasterRequestID    string `json:"master_request_id"`
}

// SLAEscalatedPayload payload.
type SLAEscalatedPayload struct {
	EscalationCount int    `json:"escalation_count"`
	Step            string `json:"step"`
}
