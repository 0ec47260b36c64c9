package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/civic-requests/internal/domain"
	apperrors "github.com/spec-kit/civic-requests/pkg/util"
)

func TestTransitionTable(t *testing.T) {
	allowed := map[domain.RequestStatus]map[domain.RequestStatus]bool{
		domain.RequestStatusNew:        {domain.RequestStatusTriaged: true, domain.RequestStatusClosed: true},
		domain.RequestStatusTriaged:    {domain.RequestStatusAssigned: true, domain.RequestStatusClosed: true},
		domain.RequestStatusAssigned:   {domain.RequestStatusInProgress: true},
		domain.RequestStatusInProgress: {domain.RequestStatusResolved: true},
		domain.RequestStatusResolved:   {domain.RequestStatusClosed: true},
		domain.RequestStatusClosed:     {},
	}

	for _, from := range Statuses() {
		for _, to := range Statuses() {
			want := allowed[from][to]
			assert.Equal(t, want, IsValidTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestSelfTransitionsRejected(t *testing.T) {
	for _, status := range Statuses() {
		assert.False(t, IsValidTransition(status, status), "%s -> %s", status, status)
	}
}

func TestClosedIsTerminal(t *testing.T) {
	assert.Empty(t, AllowedNext(domain.RequestStatusClosed))
}

func TestValidateReturnsTypedError(t *testing.T) {
	err := Validate(domain.RequestStatusNew, domain.RequestStatusResolved)

	require.Error(t, err)
	domainErr := apperrors.ToDomainError(err)
	assert.Equal(t, "INVALID_TRANSITION", domainErr.Code)
	assert.Equal(t, 409, domainErr.HTTPStatus)

	assert.NoError(t, Validate(domain.RequestStatusNew, domain.RequestStatusTriaged))
}

func TestApplyStampsEnteringState(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	req := &domain.ServiceRequest{
		Status: domain.RequestStatusNew,
		Timestamps: domain.RequestTimestamps{
			CreatedAt: now.Add(-time.Hour),
			UpdatedAt: now.Add(-time.Hour),
		},
	}

	Apply(req, domain.RequestStatusTriaged, now)

	assert.Equal(t, domain.RequestStatusTriaged, req.Status)
	assert.Equal(t, domain.RequestStatusTriaged, req.Workflow.CurrentState)
	assert.ElementsMatch(t,
		[]domain.RequestStatus{domain.RequestStatusAssigned, domain.RequestStatusClosed},
		req.Workflow.AllowedNext,
	)
	require.NotNil(t, req.Timestamps.TriagedAt)
	assert.Equal(t, now, *req.Timestamps.TriagedAt)
	assert.Equal(t, now, req.Timestamps.UpdatedAt)
}

func TestApplyNeverOverwritesStamps(t *testing.T) {
	first := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	later := first.Add(2 * time.Hour)
	req := &domain.ServiceRequest{
		Status: domain.RequestStatusAssigned,
		Timestamps: domain.RequestTimestamps{
			CreatedAt:     first.Add(-time.Hour),
			WorkStartedAt: &first,
		},
	}

	Apply(req, domain.RequestStatusInProgress, later)

	require.NotNil(t, req.Timestamps.WorkStartedAt)
	assert.Equal(t, first, *req.Timestamps.WorkStartedAt, "existing stamp must survive replays")
	assert.Equal(t, later, req.Timestamps.UpdatedAt)
}

func TestApplyFullLifecycleStampsEveryState(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	req := &domain.ServiceRequest{
		Status:     domain.RequestStatusNew,
		Timestamps: domain.RequestTimestamps{CreatedAt: now},
	}

	path := []domain.RequestStatus{
		domain.RequestStatusTriaged,
		domain.RequestStatusAssigned,
		domain.RequestStatusInProgress,
		domain.RequestStatusResolved,
		domain.RequestStatusClosed,
	}
	for _, next := range path {
		require.NoError(t, Validate(req.Status, next))
		now = now.Add(time.Hour)
		Apply(req, next, now)
	}

	assert.NotNil(t, req.Timestamps.TriagedAt)
	assert.NotNil(t, req.Timestamps.AssignedAt)
	assert.NotNil(t, req.Timestamps.WorkStartedAt)
	assert.NotNil(t, req.Timestamps.ResolvedAt)
	assert.NotNil(t, req.Timestamps.ClosedAt)
	assert.True(t, req.Timestamps.TriagedAt.Before(*req.Timestamps.ClosedAt))
}

func TestMilestoneTarget(t *testing.T) {
	status, ok := MilestoneTarget(MilestoneArrived)
	assert.True(t, ok)
	assert.Equal(t, domain.RequestStatusInProgress, status)

	status, ok = MilestoneTarget(MilestoneComplete)
	assert.True(t, ok)
	assert.Equal(t, domain.RequestStatusResolved, status)

	status, ok = MilestoneTarget(MilestoneCompleted)
	assert.True(t, ok)
	assert.Equal(t, domain.RequestStatusResolved, status)

	_, ok = MilestoneTarget("paused")
	assert.False(t, ok)
}
