package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/civic-requests/internal/domain"
	"github.com/spec-kit/civic-requests/internal/workflow"
)

// In-memory implementations of the repository interfaces. They back the
// service tests and let the server run without a Postgres DSN in
// development. Semantics mirror the pgx implementations, including the
// version-conditional update.

type MemoryRequestRepository struct {
	mu       sync.RWMutex
	requests map[string]domain.ServiceRequest
}

// NewMemoryRequestRepository builds an empty store.
func NewMemoryRequestRepository() *MemoryRequestRepository {
	return &MemoryRequestRepository{requests: make(map[string]domain.ServiceRequest)}
}

func (r *MemoryRequestRepository) Create(_ context.Context, req *domain.ServiceRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Version = 1
	r.requests[req.ID] = cloneRequest(req)
	return nil
}

func (r *MemoryRequestRepository) Update(_ context.Context, req *domain.ServiceRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.requests[req.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if stored.Version != req.Version {
		return ErrVersionConflict
	}
	req.Version++
	r.requests[req.ID] = cloneRequest(req)
	return nil
}

func (r *MemoryRequestRepository) GetByID(_ context.Context, id string) (*domain.ServiceRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.requests[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := cloneRequest(&stored)
	workflow.SyncWorkflow(&out)
	return &out, nil
}

func (r *MemoryRequestRepository) ListWithFilter(_ context.Context, filter RequestFilter) ([]domain.ServiceRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.ServiceRequest
	for _, req := range r.requests {
		if filter.CitizenID != nil && req.CitizenID != *filter.CitizenID {
			continue
		}
		if filter.Category != nil && req.Category != *filter.Category {
			continue
		}
		if filter.Priority != nil && req.Priority != *filter.Priority {
			continue
		}
		if filter.AgentID != nil && (req.Assignment == nil || req.Assignment.AgentID != *filter.AgentID) {
			continue
		}
		if filter.ZoneID != nil && (req.Location.ZoneID == nil || *req.Location.ZoneID != *filter.ZoneID) {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, req.Status) {
			continue
		}
		result = append(result, cloneRequest(&req))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamps.CreatedAt.After(result[j].Timestamps.CreatedAt)
	})
	result = paginate(result, filter.Limit, filter.Offset)
	for i := range result {
		workflow.SyncWorkflow(&result[i])
	}
	return result, nil
}

func (r *MemoryRequestRepository) ListByCitizen(ctx context.Context, citizenID string) ([]domain.ServiceRequest, error) {
	return r.ListWithFilter(ctx, RequestFilter{CitizenID: &citizenID, Limit: 100})
}

func (r *MemoryRequestRepository) ListOpen(_ context.Context, limit int) ([]domain.ServiceRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 {
		limit = 500
	}
	var result []domain.ServiceRequest
	for _, req := range r.requests {
		if req.Status == domain.RequestStatusResolved || req.Status == domain.RequestStatusClosed {
			continue
		}
		result = append(result, cloneRequest(&req))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamps.CreatedAt.Before(result[j].Timestamps.CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	for i := range result {
		workflow.SyncWorkflow(&result[i])
	}
	return result, nil
}

func (r *MemoryRequestRepository) CountActiveByAgent(_ context.Context, agentID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, req := range r.requests {
		if req.Assignment == nil || req.Assignment.AgentID != agentID {
			continue
		}
		if req.Status == domain.RequestStatusAssigned || req.Status == domain.RequestStatusInProgress {
			count++
		}
	}
	return count, nil
}

func containsStatus(statuses []domain.RequestStatus, status domain.RequestStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func paginate(requests []domain.ServiceRequest, limit, offset int) []domain.ServiceRequest {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(requests) {
		return nil
	}
	end := offset + limit
	if end > len(requests) {
		end = len(requests)
	}
	return requests[offset:end]
}

func cloneRequest(req *domain.ServiceRequest) domain.ServiceRequest {
	out := *req
	if req.Assignment != nil {
		assignment := *req.Assignment
		if req.Assignment.Policy != nil {
			policy := *req.Assignment.Policy
			assignment.Policy = &policy
		}
		out.Assignment = &assignment
	}
	out.Duplicates.LinkedDuplicates = append([]string(nil), req.Duplicates.LinkedDuplicates...)
	out.SLAPolicy.EscalationSteps = append([]domain.EscalationStep(nil), req.SLAPolicy.EscalationSteps...)
	return out
}

type MemoryAgentRepository struct {
	mu     sync.RWMutex
	agents []domain.Agent
	byID   map[string]int
}

// NewMemoryAgentRepository builds an empty roster.
func NewMemoryAgentRepository() *MemoryAgentRepository {
	return &MemoryAgentRepository{byID: make(map[string]int)}
}

func (r *MemoryAgentRepository) Create(_ context.Context, agent *domain.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	r.byID[agent.ID] = len(r.agents)
	r.agents = append(r.agents, *agent)
	return nil
}

func (r *MemoryAgentRepository) GetByID(_ context.Context, id string) (*domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	agent := r.agents[idx]
	return &agent, nil
}

// ListActive preserves insertion order, the documented tie-break order.
func (r *MemoryAgentRepository) ListActive(_ context.Context, limit int) ([]domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 {
		limit = 200
	}
	var active []domain.Agent
	for _, agent := range r.agents {
		if !agent.Active {
			continue
		}
		active = append(active, agent)
		if len(active) == limit {
			break
		}
	}
	return active, nil
}

type memoryTimeline struct {
	createdAt time.Time
	events    []domain.TimelineEvent
}

type MemoryTimelineRepository struct {
	mu        sync.Mutex
	timelines map[string]*memoryTimeline
}

// NewMemoryTimelineRepository builds an empty log.
func NewMemoryTimelineRepository() *MemoryTimelineRepository {
	return &MemoryTimelineRepository{timelines: make(map[string]*memoryTimeline)}
}

func (r *MemoryTimelineRepository) AppendEvent(_ context.Context, requestID string, event domain.TimelineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	timeline, ok := r.timelines[requestID]
	if !ok {
		timeline = &memoryTimeline{createdAt: event.At}
		r.timelines[requestID] = timeline
	}
	timeline.events = append(timeline.events, event)
	return nil
}

func (r *MemoryTimelineRepository) GetTimeline(_ context.Context, requestID string) (*domain.Timeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := &domain.Timeline{
		RequestID:   requestID,
		EventStream: []domain.TimelineEvent{},
	}
	timeline, ok := r.timelines[requestID]
	if !ok {
		return out, nil
	}
	createdAt := timeline.createdAt
	out.CreatedAt = &createdAt
	out.EventStream = append(out.EventStream, timeline.events...)
	return out, nil
}

type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]domain.User
	byEmail map[string]string
}

// NewMemoryUserRepository builds an empty account store.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{byID: make(map[string]domain.User), byEmail: make(map[string]string)}
}

func (r *MemoryUserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	r.byID[user.ID] = *user
	r.byEmail[user.Email] = user.ID
	return nil
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &user, nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	user := r.byID[id]
	return &user, nil
}

type memoryIdempotencyStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryIdempotencyStore builds the in-process fallback store.
func NewMemoryIdempotencyStore() IdempotencyStore {
	return &memoryIdempotencyStore{values: make(map[string]string)}
}

func (s *memoryIdempotencyStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.values[key]
	return val, ok, nil
}

func (s *memoryIdempotencyStore) Set(_ context.Context, key, requestID string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = requestID
	return nil
}
