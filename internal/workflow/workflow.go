package workflow

import (
	"time"

	"github.com/spec-kit/civic-requests/internal/domain"
	apperrors "github.com/spec-kit/civic-requests/pkg/util"
)

// allowedTransitions is the directed lifecycle graph. There is no path back
// to "new" and "closed" is terminal.
var allowedTransitions = map[domain.RequestStatus][]domain.RequestStatus{
	domain.RequestStatusNew:        {domain.RequestStatusTriaged, domain.RequestStatusClosed},
	domain.RequestStatusTriaged:    {domain.RequestStatusAssigned, domain.RequestStatusClosed},
	domain.RequestStatusAssigned:   {domain.RequestStatusInProgress},
	domain.RequestStatusInProgress: {domain.RequestStatusResolved},
	domain.RequestStatusResolved:   {domain.RequestStatusClosed},
	domain.RequestStatusClosed:     {},
}

// AllowedNext returns the permitted next statuses for the given status.
func AllowedNext(status domain.RequestStatus) []domain.RequestStatus {
	next := allowedTransitions[status]
	out := make([]domain.RequestStatus, len(next))
	copy(out, next)
	return out
}

// IsValidTransition reports whether current -> next is in the table.
func IsValidTransition(current, next domain.RequestStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Validate rejects transitions outside the allowed-next set.
func Validate(current, next domain.RequestStatus) error {
	if !IsValidTransition(current, next) {
		return apperrors.NewInvalidTransition(string(current), string(next))
	}
	return nil
}

// Apply mutates the request for a validated transition: status plus the
// mirrored workflow state, the entering-state timestamp (only if unset),
// and updated_at. SLA recomputation and event logging are the
// orchestrator's responsibility and follow in the same operation.
func Apply(req *domain.ServiceRequest, next domain.RequestStatus, now time.Time) {
	req.Status = next
	SyncWorkflow(req)
	stampEnteringState(&req.Timestamps, next, now)
	req.Timestamps.UpdatedAt = now
}

// SyncWorkflow re-derives the mirrored workflow fields from Status.
func SyncWorkflow(req *domain.ServiceRequest) {
	req.Workflow = domain.Workflow{
		CurrentState: req.Status,
		AllowedNext:  AllowedNext(req.Status),
	}
}

// stampEnteringState sets the lifecycle timestamp mapped to the entered
// status. Already-set fields are never overwritten, which makes replays
// idempotent.
func stampEnteringState(ts *domain.RequestTimestamps, status domain.RequestStatus, now time.Time) {
	switch status {
	case domain.RequestStatusTriaged:
		if ts.TriagedAt == nil {
			ts.TriagedAt = &now
		}
	case domain.RequestStatusAssigned:
		if ts.AssignedAt == nil {
			ts.AssignedAt = &now
		}
	case domain.RequestStatusInProgress:
		if ts.WorkStartedAt == nil {
			ts.WorkStartedAt = &now
		}
	case domain.RequestStatusResolved:
		if ts.ResolvedAt == nil {
			ts.ResolvedAt = &now
		}
	case domain.RequestStatusClosed:
		if ts.ClosedAt == nil {
			ts.ClosedAt = &now
		}
	}
}

// Milestone names reported from the field.
const (
	MilestoneArrived   = "arrived"
	MilestoneComplete  = "complete"
	MilestoneCompleted = "completed"
)

// MilestoneTarget maps a milestone report to the status it drives. Unknown
// milestones carry no state effect and are logged only.
func MilestoneTarget(milestone string) (domain.RequestStatus, bool) {
	switch milestone {
	case MilestoneArrived:
		return domain.RequestStatusInProgress, true
	case MilestoneComplete, MilestoneCompleted:
		return domain.RequestStatusResolved, true
	default:
		return "", false
	}
}

// Statuses lists every lifecycle state, for exhaustive checks.
func Statuses() []domain.RequestStatus {
	return []domain.RequestStatus{
		domain.RequestStatusNew,
		domain.RequestStatusTriaged,
		domain.RequestStatusAssigned,
		domain.RequestStatusInProgress,
		domain.RequestStatusResolved,
		domain.RequestStatusClosed,
	}
}
