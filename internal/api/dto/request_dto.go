package dto

import (
	"time"

	"github.com/spec-kit/civic-requests/internal/domain"
)

// CreateRequestPayload is the citizen request submission body.
type CreateRequestPayload struct {
	Category    string                 `json:"category"`
	Description string                 `json:"description"`
	Priority    domain.RequestPriority `json:"priority"`
	Location    LocationPayload        `json:"location"`
}

// LocationPayload carries submission coordinates and optional zone.
type LocationPayload struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	ZoneID    *string `json:"zone_id,omitempty"`
}

// TransitionPayload names the desired next lifecycle state.
type TransitionPayload struct {
	Status domain.RequestStatus `json:"status"`
}

// PriorityPayload carries a priority override.
type PriorityPayload struct {
	Priority domain.RequestPriority `json:"priority"`
}

// MilestonePayload is a field-reported progress update.
type MilestonePayload struct {
	Milestone    string   `json:"milestone"`
	Note         string   `json:"note"`
	EvidenceURLs []string `json:"evidence_urls"`
}

// MergePayload links the addressed request into a master.
type MergePayload struct {
	MasterRequestID string `json:"master_request_id"`
}

// RequestSummary is the list-view projection.
type RequestSummary struct {
	ID        string                 `json:"id"`
	CitizenID string                 `json:"citizen_id"`
	Category  string                 `json:"category"`
	Priority  domain.RequestPriority `json:"priority"`
	Status    domain.RequestStatus   `json:"status"`
	SLAState  domain.SLAState        `json:"sla_state"`
	ZoneID    *string                `json:"zone_id,omitempty"`
	AgentID   *string                `json:"assigned_agent_id,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// RequestDetail is the full document projection.
type RequestDetail struct {
	ID               string                 `json:"id"`
	CitizenID        string                 `json:"citizen_id"`
	Category         string                 `json:"category"`
	Description      string                 `json:"description"`
	Priority         domain.RequestPriority `json:"priority"`
	Status           domain.RequestStatus   `json:"status"`
	Workflow         WorkflowView           `json:"workflow"`
	Location         LocationPayload        `json:"location"`
	Assignment       *AssignmentView        `json:"assignment,omitempty"`
	SLAPolicy        domain.SLAPolicy       `json:"sla_policy"`
	SLA              domain.SLAComputed     `json:"sla"`
	Timestamps       TimestampsView         `json:"timestamps"`
	IsMaster         bool                   `json:"is_master"`
	MasterRequestID  *string                `json:"master_request_id,omitempty"`
	LinkedDuplicates []string               `json:"linked_duplicates"`
	EscalationCount  int                    `json:"escalation_count"`
	Version          int64                  `json:"version"`
}

// WorkflowView mirrors the current state and its legal successors.
type WorkflowView struct {
	CurrentState domain.RequestStatus   `json:"current_state"`
	AllowedNext  []domain.RequestStatus `json:"allowed_next"`
}

// AssignmentView projects the active assignment.
type AssignmentView struct {
	AgentID    string                  `json:"agent_id"`
	AssignedAt time.Time               `json:"assigned_at"`
	Method     domain.AssignmentMethod `json:"method"`
}

// TimestampsView exposes the lifecycle milestone timestamps.
type TimestampsView struct {
	CreatedAt     time.Time  `json:"created_at"`
	TriagedAt     *time.Time `json:"triaged_at,omitempty"`
	AssignedAt    *time.Time `json:"assigned_at,omitempty"`
	WorkStartedAt *time.Time `json:"work_started_at,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TimelineResponse is the ordered audit record for one request.
type TimelineResponse struct {
	RequestID string              `json:"request_id"`
	CreatedAt *time.Time          `json:"created_at,omitempty"`
	Events    []TimelineEventView `json:"event_stream"`
}

// TimelineEventView serializes a single audit entry. Timestamps render in
// RFC 3339 so the textual order matches the chronological order.
type TimelineEventView struct {
	Type      string         `json:"type"`
	ActorType string         `json:"actor_type"`
	ActorID   string         `json:"actor_id"`
	At        string         `json:"at"`
	Meta      map[string]any `json:"meta,omitempty"`
}
