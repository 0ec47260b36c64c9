package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/civic-requests/internal/domain"
)

// TimelineRepository is the append-only event log. AppendEvent never fails
// for a valid id: the aggregate is created implicitly on first use.
// GetTimeline returns an empty stream, not an error, when nothing has been
// logged yet.
type TimelineRepository interface {
	AppendEvent(ctx context.Context, requestID string, event domain.TimelineEvent) error
	GetTimeline(ctx context.Context, requestID string) (*domain.Timeline, error)
}

type timelineRepository struct {
	pool *pgxpool.Pool
}

// NewTimelineRepository instantiates the repository.
func NewTimelineRepository(pool *pgxpool.Pool) TimelineRepository {
	return &timelineRepository{pool: pool}
}

// AppendEvent upserts the aggregate row (created_at set once) and inserts
// the event. Insertion order is the observable event order; the serial key
// keeps concurrent appends to the same aggregate from losing events.
func (r *timelineRepository) AppendEvent(ctx context.Context, requestID string, event domain.TimelineEvent) error {
	meta, err := json.Marshal(event.Meta)
	if err != nil {
		return err
	}

	const upsert = `
        INSERT INTO request_timelines (request_id, created_at)
        VALUES ($1, $2)
        ON CONFLICT (request_id) DO NOTHING`
	if _, err := r.pool.Exec(ctx, upsert, requestID, event.At); err != nil {
		return err
	}

	const insert = `
        INSERT INTO timeline_events (request_id, event_type, actor_type, actor_id, occurred_at, meta)
        VALUES ($1,$2,$3,$4,$5,$6)`
	_, err = r.pool.Exec(ctx, insert,
		requestID,
		event.Type,
		event.Actor.ActorType,
		event.Actor.ActorID,
		event.At,
		meta,
	)
	return err
}

func (r *timelineRepository) GetTimeline(ctx context.Context, requestID string) (*domain.Timeline, error) {
	timeline := &domain.Timeline{
		RequestID:   requestID,
		EventStream: []domain.TimelineEvent{},
	}

	const aggregate = `SELECT created_at FROM request_timelines WHERE request_id=$1`
	rows, err := r.pool.Query(ctx, aggregate, requestID)
	if err != nil {
		return nil, err
	}
	if rows.Next() {
		var createdAt time.Time
		if err := rows.Scan(&createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		timeline.CreatedAt = &createdAt
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	const query = `
        SELECT event_type, actor_type, actor_id, occurred_at, meta
        FROM timeline_events WHERE request_id=$1 ORDER BY id ASC`
	eventRows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	defer eventRows.Close()

	for eventRows.Next() {
		var (
			event domain.TimelineEvent
			meta  []byte
		)
		if err := eventRows.Scan(&event.Type, &event.Actor.ActorType, &event.Actor.ActorID, &event.At, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &event.Meta); err != nil {
				return nil, err
			}
		}
		timeline.EventStream = append(timeline.EventStream, event)
	}
	return timeline, eventRows.Err()
}
