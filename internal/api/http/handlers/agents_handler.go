package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/civic-requests/internal/api/dto"
	"github.com/spec-kit/civic-requests/internal/domain"
	"github.com/spec-kit/civic-requests/internal/repository"
	apperrors "github.com/spec-kit/civic-requests/pkg/util"
)

// AgentsHandler manages the field-agent roster.
type AgentsHandler struct {
	agents repository.AgentRepository
}

// NewAgentsHandler constructs handler.
func NewAgentsHandler(agents repository.AgentRepository) *AgentsHandler {
	return &AgentsHandler{agents: agents}
}

// Create POST /agents.
func (h *AgentsHandler) Create(c *fiber.Ctx) error {
	var payload dto.CreateAgentPayload
	if err := c.BodyParser(&payload); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(payload.AgentCode) == "" || strings.TrimSpace(payload.Name) == "" {
		return apperrors.NewValidationError("agent_code and name required", nil)
	}

	active := true
	if payload.Active != nil {
		active = *payload.Active
	}
	agent := &domain.Agent{
		AgentCode:     payload.AgentCode,
		Name:          payload.Name,
		Department:    payload.Department,
		Skills:        payload.Skills,
		CoverageZones: payload.CoverageZones,
		Active:        active,
		Contacts:      payload.Contacts,
	}
	if err := h.agents.Create(c.Context(), agent); err != nil {
		return apperrors.MapError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": agentResponse(agent)})
}

// List GET /agents.
func (h *AgentsHandler) List(c *fiber.Ctx) error {
	limit := parseInt(c.Query("limit"), 200)
	agents, err := h.agents.ListActive(c.Context(), limit)
	if err != nil {
		return apperrors.MapError(err)
	}
	items := make([]dto.AgentResponse, 0, len(agents))
	for i := range agents {
		items = append(items, agentResponse(&agents[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Get GET /agents/:id.
func (h *AgentsHandler) Get(c *fiber.Ctx) error {
	agent, err := h.agents.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": agentResponse(agent)})
}

func agentResponse(agent *domain.Agent) dto.AgentResponse {
	return dto.AgentResponse{
		ID:            agent.ID,
		AgentCode:     agent.AgentCode,
		Name:          agent.Name,
		Department:    agent.Department,
		Skills:        agent.Skills,
		CoverageZones: agent.CoverageZones,
		Active:        agent.Active,
		Contacts:      agent.Contacts,
		CreatedAt:     agent.CreatedAt,
	}
}
