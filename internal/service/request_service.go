package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/civic-requests/internal/clock"
	"github.com/spec-kit/civic-requests/internal/domain"
	"github.com/spec-kit/civic-requests/internal/events"
	"github.com/spec-kit/civic-requests/internal/repository"
	"github.com/spec-kit/civic-requests/internal/sla"
	"github.com/spec-kit/civic-requests/internal/workflow"
	apperrors "github.com/spec-kit/civic-requests/pkg/util"
)

const idempotencyTTL = 24 * time.Hour

// RequestService orchestrates the request lifecycle: every operation runs
// validate -> mutate -> recompute SLA -> append timeline event, in that
// order.
type RequestService struct {
	requests    repository.RequestRepository
	timelines   repository.TimelineRepository
	idempotency repository.IdempotencyStore
	dispatcher  events.Dispatcher
	clock       clock.Clock
	logger      *zap.Logger
}

// RequestDependencies bundles collaborators for the lifecycle service.
type RequestDependencies struct {
	RequestRepo      repository.RequestRepository
	TimelineRepo     repository.TimelineRepository
	IdempotencyStore repository.IdempotencyStore
	Dispatcher       events.Dispatcher
	Clock            clock.Clock
	Logger           *zap.Logger
}

// CreateRequestInput describes request creation payload.
type CreateRequestInput struct {
	Category    string
	Description string
	Priority    domain.RequestPriority
	Location    domain.Location
}

// MilestoneInput describes a field-reported milestone.
type MilestoneInput struct {
	Milestone    string
	Note         string
	EvidenceURLs []string
}

// NewRequestService constructs the service.
func NewRequestService(deps RequestDependencies) *RequestService {
	c := deps.Clock
	if c == nil {
		c = clock.System()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestService{
		requests:    deps.RequestRepo,
		timelines:   deps.TimelineRepo,
		idempotency: deps.IdempotencyStore,
		dispatcher:  deps.Dispatcher,
		clock:       c,
		logger:      logger,
	}
}

// Create registers a new request for a citizen. A replayed idempotency key
// returns the prior result unchanged.
func (s *RequestService) Create(ctx context.Context, citizenID string, input CreateRequestInput, idempotencyKey string) (*domain.ServiceRequest, error) {
	category := strings.TrimSpace(input.Category)
	if category == "" {
		return nil, apperrors.NewValidationError("category required", nil)
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.RequestPriorityP3
	}
	if !isValidPriority(priority) {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": priority})
	}

	if idempotencyKey != "" && s.idempotency != nil {
		requestID, ok, err := s.idempotency.Get(ctx, idempotencyKey)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		if ok {
			return s.getRequest(ctx, requestID)
		}
	}

	now := s.clock.Now()
	req := &domain.ServiceRequest{
		ID:          uuid.NewString(),
		CitizenID:   citizenID,
		Category:    category,
		Description: strings.TrimSpace(input.Description),
		Priority:    priority,
		Status:      domain.RequestStatusNew,
		Timestamps: domain.RequestTimestamps{
			CreatedAt: now,
			UpdatedAt: now,
		},
		Location:   input.Location,
		Duplicates: domain.Duplicates{IsMaster: true},
	}
	workflow.SyncWorkflow(req)
	req.SLAPolicy = sla.SelectPolicy(req.Category, req.Priority, req.Location.ZoneID)
	sla.Recompute(req, now)

	if err := s.requests.Create(ctx, req); err != nil {
		return nil, apperrors.MapError(err)
	}
	if idempotencyKey != "" && s.idempotency != nil {
		// the request row is already committed; key storage is best-effort
		// replay protection, so a store failure must not fail the create.
		if err := s.idempotency.Set(ctx, idempotencyKey, req.ID, idempotencyTTL); err != nil {
			s.logger.Warn("idempotency key store", zap.String("request_id", req.ID), zap.Error(err))
		}
	}

	actor := domain.Actor{ActorType: domain.ActorTypeCitizen, ActorID: citizenID}
	s.appendEvent(ctx, req.ID, domain.TimelineEvent{
		Type:  domain.EventTypeCreated,
		Actor: actor,
		At:    now,
		Meta:  map[string]any{"category": req.Category, "priority": req.Priority},
	})
	s.publishEvent(ctx, events.Event{
		Type:      events.EventRequestCreated,
		RequestID: req.ID,
		Actor:     actor,
		Payload: events.RequestCreatedPayload{
			Category: req.Category,
			Priority: req.Priority,
			ZoneID:   req.Location.ZoneID,
		},
	})
	return req, nil
}

// Transition applies a requested status change through the workflow table.
func (s *RequestService) Transition(ctx context.Context, actor domain.Actor, requestID string, nextStatus domain.RequestStatus) (*domain.ServiceRequest, error) {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	from := req.Status
	if err := workflow.Validate(from, nextStatus); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	workflow.Apply(req, nextStatus, now)
	sla.Recompute(req, now)
	if err := s.requests.Update(ctx, req); err != nil {
		return nil, mapUpdateError(err, requestID)
	}

	s.appendEvent(ctx, req.ID, domain.TimelineEvent{
		Type:  domain.EventTypeTransition,
		Actor: actor,
		At:    now,
		Meta:  map[string]any{"from": from, "to": nextStatus},
	})
	s.publishEvent(ctx, events.Event{
		Type:      events.EventRequestTransitioned,
		RequestID: req.ID,
		Actor:     actor,
		Payload:   events.RequestTransitionedPayload{From: from, To: nextStatus},
	})
	return req, nil
}

// ReportMilestone records a field milestone. Milestones that drive a status
// change go through the same transition table and timestamp guards as a
// direct transition; a replay of an already-applied milestone leaves the
// request state untouched but is still logged.
func (s *RequestService) ReportMilestone(ctx context.Context, actor domain.Actor, requestID string, input MilestoneInput) (*domain.ServiceRequest, error) {
	if actor.ActorType != domain.ActorTypeStaff && actor.ActorType != domain.ActorTypeAgent {
		return nil, apperrors.NewForbidden("staff or agent role required")
	}
	milestone := strings.TrimSpace(input.Milestone)
	if milestone == "" {
		return nil, apperrors.NewValidationError("milestone required", nil)
	}

	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	target, drivesTransition := workflow.MilestoneTarget(milestone)
	if drivesTransition && req.Status != target {
		from := req.Status
		if err := workflow.Validate(from, target); err != nil {
			return nil, err
		}
		workflow.Apply(req, target, now)
		sla.Recompute(req, now)
		if err := s.requests.Update(ctx, req); err != nil {
			return nil, mapUpdateError(err, requestID)
		}
		s.publishEvent(ctx, events.Event{
			Type:      events.EventRequestTransitioned,
			RequestID: req.ID,
			Actor:     actor,
			Payload:   events.RequestTransitionedPayload{From: from, To: target},
		})
	}

	meta := map[string]any{}
	if input.Note != "" {
		meta["note"] = input.Note
	}
	if len(input.EvidenceURLs) > 0 {
		meta["evidence_urls"] = input.EvidenceURLs
	}
	s.appendEvent(ctx, req.ID, domain.TimelineEvent{
		Type:  domain.MilestoneEventType(milestone),
		Actor: actor,
		At:    now,
		Meta:  meta,
	})
	return req, nil
}

// UpdatePriority changes the priority, re-selects the SLA policy and
// recomputes SLA state.
func (s *RequestService) UpdatePriority(ctx context.Context, actor domain.Actor, requestID string, priority domain.RequestPriority) (*domain.ServiceRequest, error) {
	if !isValidPriority(priority) {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": priority})
	}
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	oldPriority := req.Priority
	req.Priority = priority
	req.SLAPolicy = sla.SelectPolicy(req.Category, req.Priority, req.Location.ZoneID)
	req.Timestamps.UpdatedAt = now
	sla.Recompute(req, now)
	if err := s.requests.Update(ctx, req); err != nil {
		return nil, mapUpdateError(err, requestID)
	}

	s.appendEvent(ctx, req.ID, domain.TimelineEvent{
		Type:  domain.EventTypePriorityChanged,
		Actor: actor,
		At:    now,
		Meta:  map[string]any{"from": oldPriority, "to": priority},
	})
	s.publishEvent(ctx, events.Event{
		Type:      events.EventRequestPriorityChanged,
		RequestID: req.ID,
		Actor:     actor,
		Payload:   events.RequestPriorityChangedPayload{OldPriority: oldPriority, NewPriority: priority},
	})
	return req, nil
}

// Escalate bumps the escalation counter and logs the due step. The counter
// is monotonically non-decreasing.
func (s *RequestService) Escalate(ctx context.Context, actor domain.Actor, requestID string) (*domain.ServiceRequest, error) {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	req.EscalationCount++
	req.Timestamps.UpdatedAt = now
	sla.Recompute(req, now)
	if err := s.requests.Update(ctx, req); err != nil {
		return nil, mapUpdateError(err, requestID)
	}

	step := domain.EscalationActionNotifyDispatcher
	if req.EscalationCount > 1 {
		step = domain.EscalationActionNotifyManager
	}
	s.appendEvent(ctx, req.ID, domain.TimelineEvent{
		Type:  domain.EventTypeSLAEscalation,
		Actor: actor,
		At:    now,
		Meta:  map[string]any{"escalation_count": req.EscalationCount, "step": step},
	})
	s.publishEvent(ctx, events.Event{
		Type:      events.EventSLAEscalated,
		RequestID: req.ID,
		Actor:     actor,
		Payload:   events.SLAEscalatedPayload{EscalationCount: req.EscalationCount, Step: step},
	})
	return req, nil
}

// MergeDuplicate links a duplicate request to a master. The relation is
// one-directional, idempotent, and kept at depth one: a request that is
// itself a duplicate cannot serve as a master, and an already-merged
// request cannot move to a different master.
func (s *RequestService) MergeDuplicate(ctx context.Context, actor domain.Actor, duplicateID, masterID string) (*domain.ServiceRequest, error) {
	if duplicateID == masterID {
		return nil, apperrors.NewSelfMerge(duplicateID)
	}

	duplicate, err := s.requests.GetByID(ctx, duplicateID)
	if err != nil {
		return nil, mapGetError(err, "request", duplicateID)
	}
	master, err := s.requests.GetByID(ctx, masterID)
	if err != nil {
		return nil, mapGetError(err, "master request", masterID)
	}
	if master.IsDuplicate() {
		return nil, apperrors.NewConflict("master request is itself a duplicate", map[string]any{
			"master_request_id": masterID,
		})
	}
	// re-pointing a duplicate would strand its id in the previous master's
	// link list, so a merged request stays with the master it has.
	if duplicate.IsDuplicate() && *duplicate.Duplicates.MasterRequestID != masterID {
		return nil, apperrors.NewConflict("request is already merged into another master", map[string]any{
			"request_id":        duplicateID,
			"master_request_id": *duplicate.Duplicates.MasterRequestID,
		})
	}

	alreadyLinked := master.HasLinkedDuplicate(duplicateID) &&
		duplicate.Duplicates.MasterRequestID != nil &&
		*duplicate.Duplicates.MasterRequestID == masterID
	if alreadyLinked {
		return master, nil
	}

	now := s.clock.Now()

	duplicate.Duplicates.IsMaster = false
	duplicate.Duplicates.MasterRequestID = &masterID
	duplicate.Timestamps.UpdatedAt = now
	sla.Recompute(duplicate, now)
	if err := s.requests.Update(ctx, duplicate); err != nil {
		return nil, mapUpdateError(err, duplicateID)
	}

	master.Duplicates.IsMaster = true
	if !master.HasLinkedDuplicate(duplicateID) {
		master.Duplicates.LinkedDuplicates = append(master.Duplicates.LinkedDuplicates, duplicateID)
	}
	master.Timestamps.UpdatedAt = now
	sla.Recompute(master, now)
	if err := s.requests.Update(ctx, master); err != nil {
		return nil, mapUpdateError(err, masterID)
	}

	s.appendEvent(ctx, duplicateID, domain.TimelineEvent{
		Type:  domain.EventTypeMergedInto,
		Actor: actor,
		At:    now,
		Meta:  map[string]any{"master_request_id": masterID},
	})
	s.appendEvent(ctx, masterID, domain.TimelineEvent{
		Type:  domain.EventTypeDuplicateMerged,
		Actor: actor,
		At:    now,
		Meta:  map[string]any{"duplicate_request_id": duplicateID},
	})
	s.publishEvent(ctx, events.Event{
		Type:      events.EventRequestMerged,
		RequestID: masterID,
		Actor:     actor,
		Payload:   events.RequestMergedPayload{DuplicateRequestID: duplicateID, MasterRequestID: masterID},
	})
	return master, nil
}

// GetTimeline returns the ordered audit record. Citizens may only read
// timelines of their own requests.
func (s *RequestService) GetTimeline(ctx context.Context, actor domain.Actor, requestID string) (*domain.Timeline, error) {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actor.ActorType == domain.ActorTypeCitizen && req.CitizenID != actor.ActorID {
		return nil, apperrors.NewForbidden("access denied")
	}
	timeline, err := s.timelines.GetTimeline(ctx, requestID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return timeline, nil
}

// Get fetches a request, enforcing citizen ownership.
func (s *RequestService) Get(ctx context.Context, actor domain.Actor, requestID string) (*domain.ServiceRequest, error) {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actor.ActorType == domain.ActorTypeCitizen && req.CitizenID != actor.ActorID {
		return nil, apperrors.NewForbidden("access denied")
	}
	return req, nil
}

// ListByCitizen returns a citizen's own requests.
func (s *RequestService) ListByCitizen(ctx context.Context, citizenID string) ([]domain.ServiceRequest, error) {
	requests, err := s.requests.ListByCitizen(ctx, citizenID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return requests, nil
}

// List returns requests matching the staff filter.
func (s *RequestService) List(ctx context.Context, filter repository.RequestFilter) ([]domain.ServiceRequest, error) {
	requests, err := s.requests.ListWithFilter(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return requests, nil
}

func (s *RequestService) getRequest(ctx context.Context, requestID string) (*domain.ServiceRequest, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, mapGetError(err, "request", requestID)
	}
	return req, nil
}

// appendEvent is best-effort after a committed mutation: the request's
// primary fields stay authoritative even if the log entry is delayed.
func (s *RequestService) appendEvent(ctx context.Context, requestID string, event domain.TimelineEvent) {
	_ = s.timelines.AppendEvent(ctx, requestID, event)
}

func (s *RequestService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func isValidPriority(priority domain.RequestPriority) bool {
	switch priority {
	case domain.RequestPriorityP1, domain.RequestPriorityP2, domain.RequestPriorityP3:
		return true
	default:
		return false
	}
}

func mapGetError(err error, resource, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound(resource, map[string]any{"id": id})
	}
	return apperrors.MapError(err)
}

func mapUpdateError(err error, requestID string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound("request", map[string]any{"id": requestID})
	}
	if errors.Is(err, repository.ErrVersionConflict) {
		return apperrors.NewConflict("request was modified concurrently", map[string]any{"id": requestID})
	}
	return apperrors.MapError(err)
}
