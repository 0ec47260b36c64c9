// Package sla computes service-level state for requests. Everything here is
// a pure function of timestamps and policy; output is always recomputed
// fresh from source fields so the stored state cannot drift from the truth.
package sla

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spec-kit/civic-requests/internal/domain"
)

// defaultTargetHours maps priority to resolution target.
var defaultTargetHours = map[domain.RequestPriority]int{
	domain.RequestPriorityP1: 48,
	domain.RequestPriorityP2: 72,
	domain.RequestPriorityP3: 120,
}

const fallbackTargetHours = 72

// atRiskFraction of the target at which an open request becomes at_risk.
const atRiskFraction = 0.8

// TargetHours returns the resolution target for a priority.
func TargetHours(priority domain.RequestPriority) int {
	if hours, ok := defaultTargetHours[priority]; ok {
		return hours
	}
	return fallbackTargetHours
}

// BreachThresholdHours derives the hard-breach bound from a target.
func BreachThresholdHours(targetHours int) int {
	return int(math.Ceil(float64(targetHours) * 1.25))
}

// SelectPolicy builds the active policy for a category/priority pair. The
// zone is accepted for future per-zone tuning but does not change the
// table today.
func SelectPolicy(category string, priority domain.RequestPriority, zoneID *string) domain.SLAPolicy {
	_ = zoneID
	target := TargetHours(priority)
	breach := BreachThresholdHours(target)
	return domain.SLAPolicy{
		PolicyID:             fmt.Sprintf("SLA-%s-%s", strings.ToUpper(category), priority),
		TargetHours:          target,
		BreachThresholdHours: breach,
		EscalationSteps: []domain.EscalationStep{
			{AfterHours: target, Action: domain.EscalationActionNotifyDispatcher},
			{AfterHours: breach, Action: domain.EscalationActionNotifyManager},
		},
	}
}

// ComputeState classifies elapsed time against the policy. The clock end is
// resolved_at when set, otherwise now.
func ComputeState(createdAt time.Time, resolvedAt *time.Time, targetHours, breachThresholdHours int, now time.Time) domain.SLAComputed {
	end := now
	if resolvedAt != nil {
		end = *resolvedAt
	}
	elapsed := end.Sub(createdAt).Hours()
	if elapsed < 0 {
		elapsed = 0
	}

	computed := domain.SLAComputed{
		TargetHours:          targetHours,
		BreachThresholdHours: breachThresholdHours,
		ElapsedHours:         math.Round(elapsed*100) / 100,
		State:                domain.SLAStateOnTime,
	}

	if resolvedAt != nil {
		if elapsed > float64(targetHours) {
			reason := domain.BreachReasonLateResolution
			computed.State = domain.SLAStateBreached
			computed.BreachReason = &reason
		}
		return computed
	}

	switch {
	case elapsed >= float64(breachThresholdHours):
		reason := domain.BreachReasonOverdueOpen
		computed.State = domain.SLAStateBreached
		computed.BreachReason = &reason
	case elapsed >= atRiskFraction*float64(targetHours):
		computed.State = domain.SLAStateAtRisk
	}
	return computed
}

// Recompute refreshes the derived SLA fields on a request from its cached
// policy, selecting a policy first if none is cached yet.
func Recompute(req *domain.ServiceRequest, now time.Time) {
	if req.SLAPolicy.PolicyID == "" {
		req.SLAPolicy = SelectPolicy(req.Category, req.Priority, req.Location.ZoneID)
	}
	req.SLAComputed = ComputeState(
		req.Timestamps.CreatedAt,
		req.Timestamps.ResolvedAt,
		req.SLAPolicy.TargetHours,
		req.SLAPolicy.BreachThresholdHours,
		now,
	)
}
