package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/civic-requests/internal/clock"
	"github.com/spec-kit/civic-requests/internal/domain"
	"github.com/spec-kit/civic-requests/internal/repository"
	"github.com/spec-kit/civic-requests/internal/sla"
)

func seedSweeperRequest(t *testing.T, requests *repository.MemoryRequestRepository, createdAt time.Time) *domain.ServiceRequest {
	t.Helper()
	req := &domain.ServiceRequest{
		CitizenID:  "citizen-1",
		Category:   "pothole",
		Priority:   domain.RequestPriorityP2,
		Status:     domain.RequestStatusTriaged,
		Timestamps: domain.RequestTimestamps{CreatedAt: createdAt, UpdatedAt: createdAt},
		Duplicates: domain.Duplicates{IsMaster: true},
	}
	req.SLAPolicy = sla.SelectPolicy(req.Category, req.Priority, nil)
	sla.Recompute(req, createdAt)
	require.NoError(t, requests.Create(context.Background(), req))
	return req
}

func newSweeper(requests *repository.MemoryRequestRepository, timelines *repository.MemoryTimelineRepository, fixed *clock.Fixed) *SLASweeper {
	return NewSLASweeper(SweeperDependencies{
		Requests:  requests,
		Timelines: timelines,
		Clock:     fixed,
	})
}

func TestSweepMarksAtRisk(t *testing.T) {
	createdAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	fixed := &clock.Fixed{Instant: createdAt.Add(60 * time.Hour)}
	requests := repository.NewMemoryRequestRepository()
	timelines := repository.NewMemoryTimelineRepository()
	req := seedSweeperRequest(t, requests, createdAt)

	newSweeper(requests, timelines, fixed).Sweep(context.Background())

	stored, err := requests.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SLAStateAtRisk, stored.SLAComputed.State)
	assert.Equal(t, 0, stored.EscalationCount, "at_risk alone fires no escalation")
}

func TestSweepFiresEscalationStepsOnce(t *testing.T) {
	createdAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	// P2 target 72h; dispatcher step due, manager step not yet
	fixed := &clock.Fixed{Instant: createdAt.Add(75 * time.Hour)}
	requests := repository.NewMemoryRequestRepository()
	timelines := repository.NewMemoryTimelineRepository()
	req := seedSweeperRequest(t, requests, createdAt)
	sweeper := newSweeper(requests, timelines, fixed)

	sweeper.Sweep(context.Background())

	stored, err := requests.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.EscalationCount)

	// a second pass at the same instant must not re-fire
	sweeper.Sweep(context.Background())
	stored, err = requests.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.EscalationCount)

	// past the breach threshold the second step fires
	fixed.Advance(20 * time.Hour)
	sweeper.Sweep(context.Background())
	stored, err = requests.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.EscalationCount)
	assert.Equal(t, domain.SLAStateBreached, stored.SLAComputed.State)

	timeline, err := timelines.GetTimeline(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, timeline.EventStream, 2)
	assert.Equal(t, domain.EscalationActionNotifyDispatcher, timeline.EventStream[0].Meta["step"])
	assert.Equal(t, domain.EscalationActionNotifyManager, timeline.EventStream[1].Meta["step"])
	assert.Equal(t, domain.ActorTypeSystem, timeline.EventStream[0].Actor.ActorType)
}

// conflictingRequestRepo rejects a set number of updates with a version
// conflict before delegating to the memory repository.
type conflictingRequestRepo struct {
	*repository.MemoryRequestRepository
	conflicts int
}

func (r *conflictingRequestRepo) Update(ctx context.Context, req *domain.ServiceRequest) error {
	if r.conflicts > 0 {
		r.conflicts--
		return repository.ErrVersionConflict
	}
	return r.MemoryRequestRepository.Update(ctx, req)
}

func TestSweepLostUpdateAnnouncesNothing(t *testing.T) {
	createdAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	fixed := &clock.Fixed{Instant: createdAt.Add(75 * time.Hour)}
	mem := repository.NewMemoryRequestRepository()
	timelines := repository.NewMemoryTimelineRepository()
	req := seedSweeperRequest(t, mem, createdAt)
	sweeper := NewSLASweeper(SweeperDependencies{
		Requests:  &conflictingRequestRepo{MemoryRequestRepository: mem, conflicts: 1},
		Timelines: timelines,
		Clock:     fixed,
	})

	// the first pass loses the write, so the due step must not be logged
	sweeper.Sweep(context.Background())

	timeline, err := timelines.GetTimeline(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Empty(t, timeline.EventStream)
	stored, err := mem.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.EscalationCount)

	// the next pass commits and fires the step exactly once
	sweeper.Sweep(context.Background())

	timeline, err = timelines.GetTimeline(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, timeline.EventStream, 1)
	assert.Equal(t, domain.EscalationActionNotifyDispatcher, timeline.EventStream[0].Meta["step"])
	stored, err = mem.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.EscalationCount)
}

func TestSweepSkipsResolvedRequests(t *testing.T) {
	createdAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	fixed := &clock.Fixed{Instant: createdAt.Add(200 * time.Hour)}
	requests := repository.NewMemoryRequestRepository()
	timelines := repository.NewMemoryTimelineRepository()
	req := seedSweeperRequest(t, requests, createdAt)
	req.Status = domain.RequestStatusResolved
	resolvedAt := createdAt.Add(10 * time.Hour)
	req.Timestamps.ResolvedAt = &resolvedAt
	require.NoError(t, requests.Update(context.Background(), req))

	newSweeper(requests, timelines, fixed).Sweep(context.Background())

	stored, err := requests.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.EscalationCount, "resolved requests are outside the sweep")
}
