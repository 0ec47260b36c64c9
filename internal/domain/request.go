package domain

import "time"

// RequestStatus enumerates lifecycle states for service requests.
type RequestStatus string

const (
	RequestStatusNew        RequestStatus = "new"
	RequestStatusTriaged    RequestStatus = "triaged"
	RequestStatusAssigned   RequestStatus = "assigned"
	RequestStatusInProgress RequestStatus = "in_progress"
	RequestStatusResolved   RequestStatus = "resolved"
	RequestStatusClosed     RequestStatus = "closed"
)

// RequestPriority enumerates SLA urgency tiers.
type RequestPriority string

const (
	RequestPriorityP1 RequestPriority = "P1"
	RequestPriorityP2 RequestPriority = "P2"
	RequestPriorityP3 RequestPriority = "P3"
)

// AssignmentMethod distinguishes automatic from manual agent selection.
type AssignmentMethod string

const (
	AssignmentMethodAuto   AssignmentMethod = "auto"
	AssignmentMethodManual AssignmentMethod = "manual"
)

// Location carries the reported coordinates and optional coverage zone.
type Location struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	ZoneID    *string `json:"zone_id,omitempty"`
}

// AssignmentPolicy snapshots the inputs auto-assignment used.
type AssignmentPolicy struct {
	ZoneID     *string `json:"zone_id,omitempty"`
	Category   string  `json:"category"`
	TieBreaker string  `json:"tie_breaker"`
}

// Assignment records the current agent assignment on a request.
type Assignment struct {
	AgentID    string            `json:"assigned_agent_id"`
	AssignedAt time.Time         `json:"assigned_at"`
	Method     AssignmentMethod  `json:"method"`
	Policy     *AssignmentPolicy `json:"policy,omitempty"`
}

// RequestTimestamps holds the lifecycle milestones. Each nullable field is
// write-once: a replayed pass through the same state never overwrites it.
type RequestTimestamps struct {
	CreatedAt     time.Time  `json:"created_at"`
	TriagedAt     *time.Time `json:"triaged_at,omitempty"`
	AssignedAt    *time.Time `json:"assigned_at,omitempty"`
	WorkStartedAt *time.Time `json:"work_started_at,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Workflow mirrors the request status for forward compatibility. It is
// derived from Status on every mutation and hydration so the two cannot
// diverge.
type Workflow struct {
	CurrentState RequestStatus   `json:"current_state"`
	AllowedNext  []RequestStatus `json:"allowed_next"`
}

// Duplicates tracks the duplicate-merge relation. A non-master always has a
// master id; a master never links itself; the relation is depth one.
type Duplicates struct {
	IsMaster         bool     `json:"is_master"`
	MasterRequestID  *string  `json:"master_request_id,omitempty"`
	LinkedDuplicates []string `json:"linked_duplicates,omitempty"`
}

// ServiceRequest is the central aggregate of the lifecycle engine.
type ServiceRequest struct {
	ID              string
	CitizenID       string
	Category        string
	Description     string
	Priority        RequestPriority
	Status          RequestStatus
	Workflow        Workflow
	Timestamps      RequestTimestamps
	Location        Location
	Assignment      *Assignment
	SLAPolicy       SLAPolicy
	SLAComputed     SLAComputed
	Duplicates      Duplicates
	EscalationCount int
	Version         int64
}

// IsOpen reports whether the request still counts against its SLA clock.
func (r *ServiceRequest) IsOpen() bool {
	return r.Status != RequestStatusResolved && r.Status != RequestStatusClosed
}

// IsDuplicate reports whether the request has been merged into a master.
func (r *ServiceRequest) IsDuplicate() bool {
	return !r.Duplicates.IsMaster && r.Duplicates.MasterRequestID != nil
}

// HasLinkedDuplicate reports whether the given id is already linked.
func (r *ServiceRequest) HasLinkedDuplicate(id string) bool {
	for _, linked := range r.Duplicates.LinkedDuplicates {
		if linked == id {
			return true
		}
	}
	return false
}
