package service

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/civic-requests/internal/clock"
	"github.com/spec-kit/civic-requests/internal/domain"
	"github.com/spec-kit/civic-requests/internal/events"
	"github.com/spec-kit/civic-requests/internal/repository"
	"github.com/spec-kit/civic-requests/internal/sla"
	"github.com/spec-kit/civic-requests/internal/workflow"
	apperrors "github.com/spec-kit/civic-requests/pkg/util"
)

const defaultPoolLimit = 200

const tieBreakerMinWorkload = "min_workload"

// AssignmentService selects agents for requests. The read-select-write
// sequence of auto-assignment is serialized: two racing calls cannot both
// observe the same stale workload count and double-book a low-workload
// agent. Cross-process deployments additionally rely on the repository's
// version-conditional request update; a per-agent counter column would be
// the next hardening step if selection ever moves out of process.
type AssignmentService struct {
	requests   repository.RequestRepository
	agents     repository.AgentRepository
	timelines  repository.TimelineRepository
	dispatcher events.Dispatcher
	clock      clock.Clock
	poolLimit  int

	mu sync.Mutex
}

// AssignmentDependencies bundles collaborators.
type AssignmentDependencies struct {
	RequestRepo  repository.RequestRepository
	AgentRepo    repository.AgentRepository
	TimelineRepo repository.TimelineRepository
	Dispatcher   events.Dispatcher
	Clock        clock.Clock
	PoolLimit    int
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	c := deps.Clock
	if c == nil {
		c = clock.System()
	}
	limit := deps.PoolLimit
	if limit <= 0 {
		limit = defaultPoolLimit
	}
	return &AssignmentService{
		requests:   deps.RequestRepo,
		agents:     deps.AgentRepo,
		timelines:  deps.TimelineRepo,
		dispatcher: deps.Dispatcher,
		clock:      c,
		poolLimit:  limit,
	}
}

// AutoAssign selects an agent for the request under zone and skill
// preferences with a minimum-workload tie-break, then writes the
// assignment. Resolved and closed requests are rejected; dispatch never
// reopens a finished request. On failure the request is left unmodified.
func (s *AssignmentService) AutoAssign(ctx context.Context, actor domain.Actor, requestID string) (*domain.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, mapGetError(err, "request", requestID)
	}
	if !req.IsOpen() {
		return nil, apperrors.NewInvalidTransition(string(req.Status), string(domain.RequestStatusAssigned))
	}

	pool, err := s.agents.ListActive(ctx, s.poolLimit)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if len(pool) == 0 {
		return nil, apperrors.NewNoActiveAgents()
	}

	candidates := filterByZone(pool, req.Location.ZoneID)
	candidates = filterBySkill(candidates, req.Category)
	if len(candidates) == 0 {
		return nil, apperrors.NewNoSuitableAgent()
	}

	chosen, err := s.pickMinWorkload(ctx, candidates)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	policy := &domain.AssignmentPolicy{
		ZoneID:     req.Location.ZoneID,
		Category:   req.Category,
		TieBreaker: tieBreakerMinWorkload,
	}
	return s.applyAssignment(ctx, actor, req, chosen, domain.AssignmentMethodAuto, policy)
}

// ManualAssign applies a staff-chosen agent. It intentionally skips the
// new/triaged precondition so an already-assigned request can be
// reassigned.
func (s *AssignmentService) ManualAssign(ctx context.Context, actor domain.Actor, requestID, agentID string) (*domain.ServiceRequest, error) {
	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewAgentNotFound(agentID)
		}
		return nil, apperrors.MapError(err)
	}

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, mapGetError(err, "request", requestID)
	}
	return s.applyAssignment(ctx, actor, req, agent, domain.AssignmentMethodManual, nil)
}

// zone match is a preference, not a hard requirement: an empty result
// falls back to the unfiltered pool.
func filterByZone(pool []domain.Agent, zoneID *string) []domain.Agent {
	if zoneID == nil || *zoneID == "" {
		return pool
	}
	var matched []domain.Agent
	for _, agent := range pool {
		if agent.CoversZone(*zoneID) {
			matched = append(matched, agent)
		}
	}
	if len(matched) == 0 {
		return pool
	}
	return matched
}

// Agents with no skill data pass through unfiltered; absence of data is
// not disqualifying. An empty result falls back to the pre-filter pool.
func filterBySkill(pool []domain.Agent, category string) []domain.Agent {
	var matched []domain.Agent
	for _, agent := range pool {
		if len(agent.Skills) == 0 || agent.HasSkill(category) || agent.HasSkill(domain.GeneralSkill) {
			matched = append(matched, agent)
		}
	}
	if len(matched) == 0 {
		return pool
	}
	return matched
}

// pickMinWorkload chooses the candidate with the fewest active requests.
// Ties resolve to the first-seen candidate, which is stable but arbitrary
// (roster order).
func (s *AssignmentService) pickMinWorkload(ctx context.Context, candidates []domain.Agent) (*domain.Agent, error) {
	var (
		chosen      *domain.Agent
		minWorkload int
	)
	for i := range candidates {
		workload, err := s.requests.CountActiveByAgent(ctx, candidates[i].ID)
		if err != nil {
			return nil, err
		}
		if chosen == nil || workload < minWorkload {
			chosen = &candidates[i]
			minWorkload = workload
		}
	}
	return chosen, nil
}

func (s *AssignmentService) applyAssignment(ctx context.Context, actor domain.Actor, req *domain.ServiceRequest, agent *domain.Agent, method domain.AssignmentMethod, policy *domain.AssignmentPolicy) (*domain.ServiceRequest, error) {
	now := s.clock.Now()
	req.Assignment = &domain.Assignment{
		AgentID:    agent.ID,
		AssignedAt: now,
		Method:     method,
		Policy:     policy,
	}
	workflow.Apply(req, domain.RequestStatusAssigned, now)
	sla.Recompute(req, now)
	if err := s.requests.Update(ctx, req); err != nil {
		return nil, mapUpdateError(err, req.ID)
	}

	meta := map[string]any{
		"method":   method,
		"agent_id": agent.ID,
		"category": req.Category,
	}
	if req.Location.ZoneID != nil {
		meta["zone_id"] = *req.Location.ZoneID
	}
	_ = s.timelines.AppendEvent(ctx, req.ID, domain.TimelineEvent{
		Type:  domain.EventTypeAssigned,
		Actor: actor,
		At:    now,
		Meta:  meta,
	})
	s.publishAssignmentEvent(ctx, actor, req.ID, events.RequestAssignedPayload{
		AgentID: agent.ID,
		Method:  method,
	})
	return req, nil
}

func (s *AssignmentService) publishAssignmentEvent(ctx context.Context, actor domain.Actor, requestID string, payload events.RequestAssignedPayload) {
	if s.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventRequestAssigned,
		RequestID: requestID,
		Actor:     actor,
		Timestamp: s.clock.Now(),
		Payload:   payload,
	}
	_ = s.dispatcher.Publish(ctx, event)
}
