package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/civic-requests/internal/domain"
	"github.com/spec-kit/civic-requests/internal/workflow"
)

// ErrVersionConflict signals a lost optimistic-concurrency race: another
// operation committed between the read and the conditional update.
var ErrVersionConflict = errors.New("request version conflict")

// RequestFilter captures staff search parameters.
type RequestFilter struct {
	CitizenID *string
	Statuses  []domain.RequestStatus
	Category  *string
	Priority  *domain.RequestPriority
	ZoneID    *string
	AgentID   *string
	Limit     int
	Offset    int
}

// RequestRepository encapsulates service-request persistence. Update is a
// version-conditional write: the ServiceRequest document is the unit of
// mutual exclusion.
type RequestRepository interface {
	Create(ctx context.Context, req *domain.ServiceRequest) error
	Update(ctx context.Context, req *domain.ServiceRequest) error
	GetByID(ctx context.Context, id string) (*domain.ServiceRequest, error)
	ListWithFilter(ctx context.Context, filter RequestFilter) ([]domain.ServiceRequest, error)
	ListByCitizen(ctx context.Context, citizenID string) ([]domain.ServiceRequest, error)
	ListOpen(ctx context.Context, limit int) ([]domain.ServiceRequest, error)
	CountActiveByAgent(ctx context.Context, agentID string) (int, error)
}

type requestRepository struct {
	pool *pgxpool.Pool
}

// NewRequestRepository instantiates the repository.
func NewRequestRepository(pool *pgxpool.Pool) RequestRepository {
	return &requestRepository{pool: pool}
}

const requestColumns = `
        id, citizen_id, category, description, priority, status,
        created_at, triaged_at, assigned_at, work_started_at, resolved_at, closed_at, updated_at,
        longitude, latitude, zone_id,
        assigned_agent_id, assignment_assigned_at, assignment_method, assignment_policy,
        sla_policy, sla_computed,
        is_master, master_request_id, linked_duplicates,
        escalation_count, version`

func (r *requestRepository) Create(ctx context.Context, req *domain.ServiceRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Version = 1

	slaPolicy, err := json.Marshal(req.SLAPolicy)
	if err != nil {
		return err
	}
	slaComputed, err := json.Marshal(req.SLAComputed)
	if err != nil {
		return err
	}
	agentID, assignedAt, method, policy, err := assignmentColumns(req.Assignment)
	if err != nil {
		return err
	}

	const query = `
        INSERT INTO service_requests (
            id, citizen_id, category, description, priority, status,
            created_at, triaged_at, assigned_at, work_started_at, resolved_at, closed_at, updated_at,
            longitude, latitude, zone_id,
            assigned_agent_id, assignment_assigned_at, assignment_method, assignment_policy,
            sla_policy, sla_computed,
            is_master, master_request_id, linked_duplicates,
            escalation_count, version)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)`

	_, err = r.pool.Exec(ctx, query,
		req.ID, req.CitizenID, req.Category, req.Description, req.Priority, req.Status,
		req.Timestamps.CreatedAt, req.Timestamps.TriagedAt, req.Timestamps.AssignedAt,
		req.Timestamps.WorkStartedAt, req.Timestamps.ResolvedAt, req.Timestamps.ClosedAt,
		req.Timestamps.UpdatedAt,
		req.Location.Longitude, req.Location.Latitude, req.Location.ZoneID,
		agentID, assignedAt, method, policy,
		slaPolicy, slaComputed,
		req.Duplicates.IsMaster, req.Duplicates.MasterRequestID, req.Duplicates.LinkedDuplicates,
		req.EscalationCount, req.Version,
	)
	return err
}

// Update writes the full document conditionally on the version it was read
// at, then bumps the version. A zero row count with a live id means another
// writer won the race.
func (r *requestRepository) Update(ctx context.Context, req *domain.ServiceRequest) error {
	slaPolicy, err := json.Marshal(req.SLAPolicy)
	if err != nil {
		return err
	}
	slaComputed, err := json.Marshal(req.SLAComputed)
	if err != nil {
		return err
	}
	agentID, assignedAt, method, policy, err := assignmentColumns(req.Assignment)
	if err != nil {
		return err
	}

	const query = `
        UPDATE service_requests SET
            category=$1, description=$2, priority=$3, status=$4,
            triaged_at=$5, assigned_at=$6, work_started_at=$7, resolved_at=$8, closed_at=$9, updated_at=$10,
            assigned_agent_id=$11, assignment_assigned_at=$12, assignment_method=$13, assignment_policy=$14,
            sla_policy=$15, sla_computed=$16,
            is_master=$17, master_request_id=$18, linked_duplicates=$19,
            escalation_count=$20, version=version+1
        WHERE id=$21 AND version=$22`

	cmd, err := r.pool.Exec(ctx, query,
		req.Category, req.Description, req.Priority, req.Status,
		req.Timestamps.TriagedAt, req.Timestamps.AssignedAt, req.Timestamps.WorkStartedAt,
		req.Timestamps.ResolvedAt, req.Timestamps.ClosedAt, req.Timestamps.UpdatedAt,
		agentID, assignedAt, method, policy,
		slaPolicy, slaComputed,
		req.Duplicates.IsMaster, req.Duplicates.MasterRequestID, req.Duplicates.LinkedDuplicates,
		req.EscalationCount,
		req.ID, req.Version,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM service_requests WHERE id=$1)`, req.ID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrVersionConflict
		}
		return pgx.ErrNoRows
	}
	req.Version++
	return nil
}

func (r *requestRepository) GetByID(ctx context.Context, id string) (*domain.ServiceRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM service_requests WHERE id=$1`
	row := r.pool.QueryRow(ctx, query, id)
	return scanRequest(row)
}

func (r *requestRepository) ListWithFilter(ctx context.Context, filter RequestFilter) ([]domain.ServiceRequest, error) {
	base := `SELECT ` + requestColumns + ` FROM service_requests`
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CitizenID != nil {
		args = append(args, *filter.CitizenID)
		clauses = append(clauses, fmt.Sprintf("citizen_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Category != nil {
		args = append(args, *filter.Category)
		clauses = append(clauses, fmt.Sprintf("category=$%d", len(args)))
	}
	if filter.Priority != nil {
		args = append(args, *filter.Priority)
		clauses = append(clauses, fmt.Sprintf("priority=$%d", len(args)))
	}
	if filter.ZoneID != nil {
		args = append(args, *filter.ZoneID)
		clauses = append(clauses, fmt.Sprintf("zone_id=$%d", len(args)))
	}
	if filter.AgentID != nil {
		args = append(args, *filter.AgentID)
		clauses = append(clauses, fmt.Sprintf("assigned_agent_id=$%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf("%s WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (r *requestRepository) ListByCitizen(ctx context.Context, citizenID string) ([]domain.ServiceRequest, error) {
	return r.ListWithFilter(ctx, RequestFilter{CitizenID: &citizenID, Limit: 100})
}

func (r *requestRepository) ListOpen(ctx context.Context, limit int) ([]domain.ServiceRequest, error) {
	if limit <= 0 {
		limit = 500
	}
	query := fmt.Sprintf(`SELECT %s FROM service_requests
        WHERE status NOT IN ('resolved','closed')
        ORDER BY created_at ASC LIMIT %d`, requestColumns, limit)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

// CountActiveByAgent derives the agent's workload: requests currently
// assigned or in progress with that agent on them.
func (r *requestRepository) CountActiveByAgent(ctx context.Context, agentID string) (int, error) {
	const query = `
        SELECT COUNT(*) FROM service_requests
        WHERE assigned_agent_id=$1 AND status IN ('assigned','in_progress')`
	var count int
	if err := r.pool.QueryRow(ctx, query, agentID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func assignmentColumns(a *domain.Assignment) (agentID any, assignedAt any, method any, policy []byte, err error) {
	if a == nil {
		return nil, nil, nil, nil, nil
	}
	var policyJSON []byte
	if a.Policy != nil {
		policyJSON, err = json.Marshal(a.Policy)
		if err != nil {
			return nil, nil, nil, nil, err
		}
	}
	return a.AgentID, a.AssignedAt, a.Method, policyJSON, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*domain.ServiceRequest, error) {
	var (
		req         domain.ServiceRequest
		agentID     *string
		assignedAt  *time.Time
		method      *string
		policyJSON  []byte
		slaPolicy   []byte
		slaComputed []byte
	)
	if err := row.Scan(
		&req.ID, &req.CitizenID, &req.Category, &req.Description, &req.Priority, &req.Status,
		&req.Timestamps.CreatedAt, &req.Timestamps.TriagedAt, &req.Timestamps.AssignedAt,
		&req.Timestamps.WorkStartedAt, &req.Timestamps.ResolvedAt, &req.Timestamps.ClosedAt,
		&req.Timestamps.UpdatedAt,
		&req.Location.Longitude, &req.Location.Latitude, &req.Location.ZoneID,
		&agentID, &assignedAt, &method, &policyJSON,
		&slaPolicy, &slaComputed,
		&req.Duplicates.IsMaster, &req.Duplicates.MasterRequestID, &req.Duplicates.LinkedDuplicates,
		&req.EscalationCount, &req.Version,
	); err != nil {
		return nil, err
	}

	if agentID != nil && assignedAt != nil && method != nil {
		assignment := &domain.Assignment{
			AgentID:    *agentID,
			AssignedAt: *assignedAt,
			Method:     domain.AssignmentMethod(*method),
		}
		if len(policyJSON) > 0 {
			var policy domain.AssignmentPolicy
			if err := json.Unmarshal(policyJSON, &policy); err != nil {
				return nil, err
			}
			assignment.Policy = &policy
		}
		req.Assignment = assignment
	}
	if len(slaPolicy) > 0 {
		if err := json.Unmarshal(slaPolicy, &req.SLAPolicy); err != nil {
			return nil, err
		}
	}
	if len(slaComputed) > 0 {
		if err := json.Unmarshal(slaComputed, &req.SLAComputed); err != nil {
			return nil, err
		}
	}
	workflow.SyncWorkflow(&req)
	return &req, nil
}

func scanRequests(rows pgx.Rows) ([]domain.ServiceRequest, error) {
	var result []domain.ServiceRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *req)
	}
	return result, rows.Err()
}
