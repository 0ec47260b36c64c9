package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/civic-requests/internal/clock"
	"github.com/spec-kit/civic-requests/internal/domain"
	"github.com/spec-kit/civic-requests/internal/repository"
	apperrors "github.com/spec-kit/civic-requests/pkg/util"
)

type assignmentFixture struct {
	service  *AssignmentService
	requests *repository.MemoryRequestRepository
	agents   *repository.MemoryAgentRepository
	clock    *clock.Fixed
}

func newAssignmentFixture(t *testing.T) *assignmentFixture {
	t.Helper()
	fixed := &clock.Fixed{Instant: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	requests := repository.NewMemoryRequestRepository()
	agents := repository.NewMemoryAgentRepository()

	svc := NewAssignmentService(AssignmentDependencies{
		RequestRepo:  requests,
		AgentRepo:    agents,
		TimelineRepo: repository.NewMemoryTimelineRepository(),
		Clock:        fixed,
	})
	return &assignmentFixture{service: svc, requests: requests, agents: agents, clock: fixed}
}

func (f *assignmentFixture) seedRequest(t *testing.T, category string, zoneID *string) *domain.ServiceRequest {
	t.Helper()
	now := f.clock.Now()
	req := &domain.ServiceRequest{
		CitizenID:   "citizen-1",
		Category:    category,
		Description: "test",
		Priority:    domain.RequestPriorityP2,
		Status:      domain.RequestStatusTriaged,
		Timestamps:  domain.RequestTimestamps{CreatedAt: now, UpdatedAt: now},
		Location:    domain.Location{ZoneID: zoneID},
		Duplicates:  domain.Duplicates{IsMaster: true},
	}
	require.NoError(t, f.requests.Create(context.Background(), req))
	return req
}

func (f *assignmentFixture) seedAgent(t *testing.T, code string, skills, zones []string) *domain.Agent {
	t.Helper()
	agent := &domain.Agent{
		AgentCode:     code,
		Name:          "Agent " + code,
		Department:    "public-works",
		Skills:        skills,
		CoverageZones: zones,
		Active:        true,
	}
	require.NoError(t, f.agents.Create(context.Background(), agent))
	return agent
}

func TestAutoAssignEmptyPool(t *testing.T) {
	f := newAssignmentFixture(t)
	req := f.seedRequest(t, "pothole", nil)

	_, err := f.service.AutoAssign(context.Background(), staffActor(), req.ID)
	require.Error(t, err)
	assert.Equal(t, "NO_ACTIVE_AGENTS", apperrors.ToDomainError(err).Code)

	stored, getErr := f.requests.GetByID(context.Background(), req.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.RequestStatusTriaged, stored.Status, "failed assignment must leave the request unmodified")
	assert.Nil(t, stored.Assignment)
	assert.Equal(t, int64(1), stored.Version)
}

func TestAutoAssignRejectsFinishedRequest(t *testing.T) {
	f := newAssignmentFixture(t)
	f.seedAgent(t, "A1", nil, nil)

	for _, status := range []domain.RequestStatus{domain.RequestStatusResolved, domain.RequestStatusClosed} {
		t.Run(string(status), func(t *testing.T) {
			now := f.clock.Now()
			req := &domain.ServiceRequest{
				CitizenID:  "citizen-1",
				Category:   "pothole",
				Priority:   domain.RequestPriorityP2,
				Status:     status,
				Timestamps: domain.RequestTimestamps{CreatedAt: now, UpdatedAt: now},
				Duplicates: domain.Duplicates{IsMaster: true},
			}
			require.NoError(t, f.requests.Create(context.Background(), req))

			_, err := f.service.AutoAssign(context.Background(), staffActor(), req.ID)
			require.Error(t, err)
			assert.Equal(t, "INVALID_TRANSITION", apperrors.ToDomainError(err).Code)

			stored, getErr := f.requests.GetByID(context.Background(), req.ID)
			require.NoError(t, getErr)
			assert.Equal(t, status, stored.Status, "dispatch must not reopen a finished request")
			assert.Nil(t, stored.Assignment)
			assert.Equal(t, int64(1), stored.Version)
		})
	}
}

func TestAutoAssignInactiveAgentsExcluded(t *testing.T) {
	f := newAssignmentFixture(t)
	req := f.seedRequest(t, "pothole", nil)
	inactive := &domain.Agent{AgentCode: "A1", Name: "Agent A1", Active: false}
	require.NoError(t, f.agents.Create(context.Background(), inactive))
	active := f.seedAgent(t, "A2", nil, nil)

	assigned, err := f.service.AutoAssign(context.Background(), staffActor(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, active.ID, assigned.Assignment.AgentID)
}

func TestAutoAssignPrefersZoneMatch(t *testing.T) {
	f := newAssignmentFixture(t)
	zone := "Z-NORTH"
	req := f.seedRequest(t, "pothole", &zone)
	f.seedAgent(t, "A1", nil, []string{"Z-SOUTH"})
	inZone := f.seedAgent(t, "A2", nil, []string{"Z-NORTH"})

	assigned, err := f.service.AutoAssign(context.Background(), staffActor(), req.ID)
	require.NoError(t, err)

	assert.Equal(t, inZone.ID, assigned.Assignment.AgentID)
	assert.Equal(t, domain.RequestStatusAssigned, assigned.Status)
	assert.Equal(t, domain.AssignmentMethodAuto, assigned.Assignment.Method)
	require.NotNil(t, assigned.Assignment.Policy)
	assert.Equal(t, "min_workload", assigned.Assignment.Policy.TieBreaker)
}

func TestAutoAssignZoneFallback(t *testing.T) {
	f := newAssignmentFixture(t)
	zone := "Z-EAST"
	req := f.seedRequest(t, "pothole", &zone)
	outOfZone := f.seedAgent(t, "A1", nil, []string{"Z-WEST"})

	assigned, err := f.service.AutoAssign(context.Background(), staffActor(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, outOfZone.ID, assigned.Assignment.AgentID, "no zone match falls back to the whole pool")
}

func TestAutoAssignSkillFilter(t *testing.T) {
	f := newAssignmentFixture(t)
	req := f.seedRequest(t, "electrical", nil)
	f.seedAgent(t, "A1", []string{"plumbing"}, nil)
	skilled := f.seedAgent(t, "A2", []string{"electrical"}, nil)

	assigned, err := f.service.AutoAssign(context.Background(), staffActor(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, skilled.ID, assigned.Assignment.AgentID)
}

func TestAutoAssignGeneralSkillQualifies(t *testing.T) {
	f := newAssignmentFixture(t)
	req := f.seedRequest(t, "electrical", nil)
	f.seedAgent(t, "A1", []string{"plumbing"}, nil)
	generalist := f.seedAgent(t, "A2", []string{"general"}, nil)

	assigned, err := f.service.AutoAssign(context.Background(), staffActor(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, generalist.ID, assigned.Assignment.AgentID)
}

func TestAutoAssignNoSkillDataPasses(t *testing.T) {
	f := newAssignmentFixture(t)
	req := f.seedRequest(t, "electrical", nil)
	f.seedAgent(t, "A1", []string{"plumbing"}, nil)
	unlisted := f.seedAgent(t, "A2", nil, nil)

	assigned, err := f.service.AutoAssign(context.Background(), staffActor(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, unlisted.ID, assigned.Assignment.AgentID, "missing skill data is not disqualifying")
}

func TestAutoAssignMinWorkload(t *testing.T) {
	f := newAssignmentFixture(t)
	busy := f.seedAgent(t, "A1", nil, nil)
	idle := f.seedAgent(t, "A2", nil, nil)

	first := f.seedRequest(t, "pothole", nil)
	assigned, err := f.service.AutoAssign(context.Background(), staffActor(), first.ID)
	require.NoError(t, err)
	require.Equal(t, busy.ID, assigned.Assignment.AgentID, "ties resolve to roster order")

	second := f.seedRequest(t, "pothole", nil)
	assigned, err = f.service.AutoAssign(context.Background(), staffActor(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, idle.ID, assigned.Assignment.AgentID, "lower workload wins")
}

func TestAutoAssignConcurrentWorkloadConverges(t *testing.T) {
	f := newAssignmentFixture(t)
	f.seedAgent(t, "A1", nil, nil)
	f.seedAgent(t, "A2", nil, nil)

	const n = 100
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		req := f.seedRequest(t, fmt.Sprintf("cat-%d", i), nil)
		ids = append(ids, req.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(requestID string) {
			defer wg.Done()
			_, err := f.service.AutoAssign(context.Background(), staffActor(), requestID)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	workloads := make(map[string]int)
	for _, id := range ids {
		stored, err := f.requests.GetByID(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, stored.Assignment)
		workloads[stored.Assignment.AgentID]++
	}
	require.Len(t, workloads, 2)
	for agentID, count := range workloads {
		assert.Equal(t, n/2, count, "agent %s", agentID)
	}
}

func TestManualAssign(t *testing.T) {
	f := newAssignmentFixture(t)
	req := f.seedRequest(t, "pothole", nil)
	agent := f.seedAgent(t, "A1", nil, nil)

	assigned, err := f.service.ManualAssign(context.Background(), staffActor(), req.ID, agent.ID)
	require.NoError(t, err)

	assert.Equal(t, agent.ID, assigned.Assignment.AgentID)
	assert.Equal(t, domain.AssignmentMethodManual, assigned.Assignment.Method)
	assert.Nil(t, assigned.Assignment.Policy, "manual assignment carries no policy snapshot")
	assert.Equal(t, domain.RequestStatusAssigned, assigned.Status)
}

func TestManualReassign(t *testing.T) {
	f := newAssignmentFixture(t)
	req := f.seedRequest(t, "pothole", nil)
	first := f.seedAgent(t, "A1", nil, nil)
	second := f.seedAgent(t, "A2", nil, nil)

	assigned, err := f.service.ManualAssign(context.Background(), staffActor(), req.ID, first.ID)
	require.NoError(t, err)
	firstAt := assigned.Timestamps.AssignedAt

	f.clock.Advance(time.Hour)
	reassigned, err := f.service.ManualAssign(context.Background(), staffActor(), req.ID, second.ID)
	require.NoError(t, err)

	assert.Equal(t, second.ID, reassigned.Assignment.AgentID)
	assert.Equal(t, f.clock.Now(), reassigned.Assignment.AssignedAt)
	assert.Equal(t, *firstAt, *reassigned.Timestamps.AssignedAt, "lifecycle stamp stays at first assignment")
}

func TestManualAssignUnknownAgent(t *testing.T) {
	f := newAssignmentFixture(t)
	req := f.seedRequest(t, "pothole", nil)

	_, err := f.service.ManualAssign(context.Background(), staffActor(), req.ID, "missing")
	require.Error(t, err)
	assert.Equal(t, "AGENT_NOT_FOUND", apperrors.ToDomainError(err).Code)
}

func TestManualAssignUnknownRequest(t *testing.T) {
	f := newAssignmentFixture(t)
	agent := f.seedAgent(t, "A1", nil, nil)

	_, err := f.service.ManualAssign(context.Background(), staffActor(), "missing", agent.ID)
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", apperrors.ToDomainError(err).Code)
}
