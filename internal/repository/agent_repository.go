package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/civic-requests/internal/domain"
)

// AgentRepository reads the agent roster. The roster is owned by an
// external collaborator; the engine treats agents as reference data.
type AgentRepository interface {
	Create(ctx context.Context, agent *domain.Agent) error
	GetByID(ctx context.Context, id string) (*domain.Agent, error)
	ListActive(ctx context.Context, limit int) ([]domain.Agent, error)
}

type agentRepository struct {
	pool *pgxpool.Pool
}

// NewAgentRepository instantiates the repository.
func NewAgentRepository(pool *pgxpool.Pool) AgentRepository {
	return &agentRepository{pool: pool}
}

func (r *agentRepository) Create(ctx context.Context, agent *domain.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	const query = `
        INSERT INTO service_agents (id, agent_code, name, department, skills, coverage_zones, active, contacts)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		agent.ID,
		agent.AgentCode,
		agent.Name,
		agent.Department,
		agent.Skills,
		agent.CoverageZones,
		agent.Active,
		agent.Contacts,
	).Scan(&agent.CreatedAt)
}

func (r *agentRepository) GetByID(ctx context.Context, id string) (*domain.Agent, error) {
	const query = `
        SELECT id, agent_code, name, department, skills, coverage_zones, active, contacts, created_at
        FROM service_agents WHERE id=$1`
	var agent domain.Agent
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&agent.ID,
		&agent.AgentCode,
		&agent.Name,
		&agent.Department,
		&agent.Skills,
		&agent.CoverageZones,
		&agent.Active,
		&agent.Contacts,
		&agent.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &agent, nil
}

// ListActive returns the candidate pool in stable roster order. The limit
// bounds the fetch; iteration order is the documented tie-break for
// assignment.
func (r *agentRepository) ListActive(ctx context.Context, limit int) ([]domain.Agent, error) {
	if limit <= 0 {
		limit = 200
	}
	const query = `
        SELECT id, agent_code, name, department, skills, coverage_zones, active, contacts, created_at
        FROM service_agents WHERE active=TRUE ORDER BY created_at ASC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		var agent domain.Agent
		if err := rows.Scan(
			&agent.ID,
			&agent.AgentCode,
			&agent.Name,
			&agent.Department,
			&agent.Skills,
			&agent.CoverageZones,
			&agent.Active,
			&agent.Contacts,
			&agent.CreatedAt,
		); err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}
