package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/civic-requests/internal/clock"
	"github.com/spec-kit/civic-requests/internal/domain"
	"github.com/spec-kit/civic-requests/internal/events"
	"github.com/spec-kit/civic-requests/internal/observability"
	"github.com/spec-kit/civic-requests/internal/repository"
	"github.com/spec-kit/civic-requests/internal/sla"
)

const sweepBatchLimit = 500

// SLASweeper periodically recomputes SLA state for open requests and fires
// escalation steps whose thresholds have passed. Escalations fire at most
// once per step.
type SLASweeper struct {
	requests   repository.RequestRepository
	timelines  repository.TimelineRepository
	dispatcher events.Dispatcher
	clock      clock.Clock
	metrics    *observability.Metrics
	logger     *zap.Logger
	interval   time.Duration
}

// SweeperDependencies bundles collaborators for the sweeper.
type SweeperDependencies struct {
	Requests   repository.RequestRepository
	Timelines  repository.TimelineRepository
	Dispatcher events.Dispatcher
	Clock      clock.Clock
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Interval   time.Duration
}

// NewSLASweeper constructs the sweeper.
func NewSLASweeper(deps SweeperDependencies) *SLASweeper {
	c := deps.Clock
	if c == nil {
		c = clock.System()
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SLASweeper{
		requests:   deps.Requests,
		timelines:  deps.Timelines,
		dispatcher: deps.Dispatcher,
		clock:      c,
		metrics:    deps.Metrics,
		logger:     logger,
		interval:   interval,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (w *SLASweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Sweep(ctx)
			}
		}
	}()
}

// Sweep performs one pass over open requests.
func (w *SLASweeper) Sweep(ctx context.Context) {
	open, err := w.requests.ListOpen(ctx, sweepBatchLimit)
	if err != nil {
		w.logger.Warn("sla sweep: list open requests", zap.Error(err))
		return
	}

	now := w.clock.Now()
	for i := range open {
		req := &open[i]
		if err := w.sweepOne(ctx, req, now); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				// another writer moved the request; the next pass recomputes it
				continue
			}
			w.logger.Warn("sla sweep: request", zap.String("request_id", req.ID), zap.Error(err))
		}
	}
}

func (w *SLASweeper) sweepOne(ctx context.Context, req *domain.ServiceRequest, now time.Time) error {
	before := req.SLAComputed.State
	sla.Recompute(req, now)

	dueSteps := w.dueSteps(req)
	if req.SLAComputed.State == before && len(dueSteps) == 0 {
		return nil
	}

	req.EscalationCount += len(dueSteps)
	req.Timestamps.UpdatedAt = now
	// persist first: if the version-conditional update loses a race the
	// incremented count is discarded, and announcing the steps anyway
	// would let the next pass re-fire them.
	if err := w.requests.Update(ctx, req); err != nil {
		return err
	}

	count := req.EscalationCount - len(dueSteps)
	for _, step := range dueSteps {
		count++
		w.appendEscalation(ctx, req, count, step, now)
		w.metrics.RecordDomain("sla_escalations")
	}

	if req.SLAComputed.State != before {
		w.logger.Info("sla state changed",
			zap.String("request_id", req.ID),
			zap.String("from", string(before)),
			zap.String("to", string(req.SLAComputed.State)),
		)
	}
	return nil
}

// dueSteps returns the policy steps whose thresholds have elapsed but whose
// escalations have not fired yet, in policy order.
func (w *SLASweeper) dueSteps(req *domain.ServiceRequest) []domain.EscalationStep {
	var due []domain.EscalationStep
	for i, step := range req.SLAPolicy.EscalationSteps {
		if req.SLAComputed.ElapsedHours >= float64(step.AfterHours) && req.EscalationCount < i+1 {
			due = append(due, step)
		}
	}
	return due
}

func (w *SLASweeper) appendEscalation(ctx context.Context, req *domain.ServiceRequest, count int, step domain.EscalationStep, now time.Time) {
	actor := domain.Actor{ActorType: domain.ActorTypeSystem, ActorID: "sla-sweeper"}
	_ = w.timelines.AppendEvent(ctx, req.ID, domain.TimelineEvent{
		Type:  domain.EventTypeSLAEscalation,
		Actor: actor,
		At:    now,
		Meta:  map[string]any{"escalation_count": count, "step": step.Action, "after_hours": step.AfterHours},
	})
	if w.dispatcher != nil {
		_ = w.dispatcher.Publish(ctx, events.Event{
			Type:      events.EventSLAEscalated,
			RequestID: req.ID,
			Actor:     actor,
			Timestamp: now,
			Payload:   events.SLAEscalatedPayload{EscalationCount: count, Step: step.Action},
		})
	}
}
