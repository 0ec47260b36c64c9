package sla

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/civic-requests/internal/domain"
)

func TestTargetHours(t *testing.T) {
	assert.Equal(t, 48, TargetHours(domain.RequestPriorityP1))
	assert.Equal(t, 72, TargetHours(domain.RequestPriorityP2))
	assert.Equal(t, 120, TargetHours(domain.RequestPriorityP3))
	assert.Equal(t, 72, TargetHours(domain.RequestPriority("P9")))
}

func TestBreachThresholdHours(t *testing.T) {
	assert.Equal(t, 60, BreachThresholdHours(48))
	assert.Equal(t, 90, BreachThresholdHours(72))
	assert.Equal(t, 150, BreachThresholdHours(120))
	// ceil applies when the target is not divisible by four
	assert.Equal(t, 13, BreachThresholdHours(10))
}

func TestSelectPolicy(t *testing.T) {
	policy := SelectPolicy("pothole", domain.RequestPriorityP2, nil)

	assert.Equal(t, "SLA-POTHOLE-P2", policy.PolicyID)
	assert.Equal(t, 72, policy.TargetHours)
	assert.Equal(t, 90, policy.BreachThresholdHours)
	require.Len(t, policy.EscalationSteps, 2)
	assert.Equal(t, domain.EscalationStep{AfterHours: 72, Action: domain.EscalationActionNotifyDispatcher}, policy.EscalationSteps[0])
	assert.Equal(t, domain.EscalationStep{AfterHours: 90, Action: domain.EscalationActionNotifyManager}, policy.EscalationSteps[1])
}

func TestComputeStateOpenRequest(t *testing.T) {
	createdAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		elapsed time.Duration
		state   domain.SLAState
		reason  *string
	}{
		{"well inside target", 50 * time.Hour, domain.SLAStateOnTime, nil},
		{"past eighty percent of target", 60 * time.Hour, domain.SLAStateAtRisk, nil},
		{"past breach threshold", 95 * time.Hour, domain.SLAStateBreached, strPtr(domain.BreachReasonOverdueOpen)},
		{"exactly at risk boundary", 3456 * time.Minute, domain.SLAStateAtRisk, nil},
		{"exactly at breach boundary", 90 * time.Hour, domain.SLAStateBreached, strPtr(domain.BreachReasonOverdueOpen)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now := createdAt.Add(tc.elapsed)
			computed := ComputeState(createdAt, nil, 72, 90, now)

			assert.Equal(t, tc.state, computed.State)
			if tc.reason == nil {
				assert.Nil(t, computed.BreachReason)
			} else {
				require.NotNil(t, computed.BreachReason)
				assert.Equal(t, *tc.reason, *computed.BreachReason)
			}
		})
	}
}

func TestComputeStateResolvedRequest(t *testing.T) {
	createdAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	now := createdAt.Add(500 * time.Hour)

	t.Run("late resolution breaches regardless of now", func(t *testing.T) {
		resolvedAt := createdAt.Add(50 * time.Hour)
		computed := ComputeState(createdAt, &resolvedAt, 48, 60, now)

		assert.Equal(t, domain.SLAStateBreached, computed.State)
		require.NotNil(t, computed.BreachReason)
		assert.Equal(t, domain.BreachReasonLateResolution, *computed.BreachReason)
		assert.Equal(t, 50.0, computed.ElapsedHours)
	})

	t.Run("in-target resolution stays on_time forever", func(t *testing.T) {
		resolvedAt := createdAt.Add(40 * time.Hour)
		computed := ComputeState(createdAt, &resolvedAt, 48, 60, now)

		assert.Equal(t, domain.SLAStateOnTime, computed.State)
		assert.Nil(t, computed.BreachReason)
	})

	t.Run("resolved exactly at target is on_time", func(t *testing.T) {
		resolvedAt := createdAt.Add(48 * time.Hour)
		computed := ComputeState(createdAt, &resolvedAt, 48, 60, now)

		assert.Equal(t, domain.SLAStateOnTime, computed.State)
	})
}

func TestComputeStateClampsNegativeElapsed(t *testing.T) {
	createdAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := createdAt.Add(-time.Hour)

	computed := ComputeState(createdAt, nil, 72, 90, now)

	assert.Equal(t, 0.0, computed.ElapsedHours)
	assert.Equal(t, domain.SLAStateOnTime, computed.State)
}

func TestComputeStateIsPure(t *testing.T) {
	createdAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	now := createdAt.Add(30 * time.Hour)

	first := ComputeState(createdAt, nil, 72, 90, now)
	second := ComputeState(createdAt, nil, 72, 90, now)

	assert.Equal(t, first, second)
}

func TestRecomputeSelectsPolicyWhenMissing(t *testing.T) {
	createdAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	req := &domain.ServiceRequest{
		Category: "streetlight",
		Priority: domain.RequestPriorityP1,
		Timestamps: domain.RequestTimestamps{
			CreatedAt: createdAt,
			UpdatedAt: createdAt,
		},
	}

	Recompute(req, createdAt.Add(10*time.Hour))

	assert.Equal(t, "SLA-STREETLIGHT-P1", req.SLAPolicy.PolicyID)
	assert.Equal(t, 48, req.SLAComputed.TargetHours)
	assert.Equal(t, domain.SLAStateOnTime, req.SLAComputed.State)
	assert.Equal(t, 10.0, req.SLAComputed.ElapsedHours)
}

func strPtr(s string) *string { return &s }
