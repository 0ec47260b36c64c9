package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/civic-requests/internal/api/dto"
	"github.com/spec-kit/civic-requests/internal/auth"
	"github.com/spec-kit/civic-requests/internal/domain"
	"github.com/spec-kit/civic-requests/internal/repository"
	"github.com/spec-kit/civic-requests/internal/service"
	apperrors "github.com/spec-kit/civic-requests/pkg/util"
)

// RequestsHandler exposes the request lifecycle endpoints.
type RequestsHandler struct {
	requests    *service.RequestService
	assignments *service.AssignmentService
}

// NewRequestsHandler constructs handler.
func NewRequestsHandler(requests *service.RequestService, assignments *service.AssignmentService) *RequestsHandler {
	return &RequestsHandler{requests: requests, assignments: assignments}
}

// Create POST /requests.
func (h *RequestsHandler) Create(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var payload dto.CreateRequestPayload
	if err := c.BodyParser(&payload); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	input := service.CreateRequestInput{
		Category:    payload.Category,
		Description: payload.Description,
		Priority:    payload.Priority,
		Location: domain.Location{
			Longitude: payload.Location.Longitude,
			Latitude:  payload.Location.Latitude,
			ZoneID:    payload.Location.ZoneID,
		},
	}
	req, err := h.requests.Create(c.Context(), principal.User.ID, input, c.Get("Idempotency-Key"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": requestDetail(req)})
}

// ListMine GET /requests/me.
func (h *RequestsHandler) ListMine(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	requests, err := h.requests.ListByCitizen(c.Context(), principal.User.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestSummaries(requests)})
}

// List GET /requests (operator search).
func (h *RequestsHandler) List(c *fiber.Ctx) error {
	requests, err := h.requests.List(c.Context(), parseRequestFilter(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestSummaries(requests)})
}

// Get GET /requests/:id.
func (h *RequestsHandler) Get(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	req, err := h.requests.Get(c.Context(), principal.Actor(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestDetail(req)})
}

// Transition PATCH /requests/:id/transition.
func (h *RequestsHandler) Transition(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var payload dto.TransitionPayload
	if err := c.BodyParser(&payload); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if payload.Status == "" {
		return apperrors.NewValidationError("status required", nil)
	}
	req, err := h.requests.Transition(c.Context(), principal.Actor(), c.Params("id"), payload.Status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestDetail(req)})
}

// UpdatePriority PATCH /requests/:id/priority.
func (h *RequestsHandler) UpdatePriority(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var payload dto.PriorityPayload
	if err := c.BodyParser(&payload); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	req, err := h.requests.UpdatePriority(c.Context(), principal.Actor(), c.Params("id"), payload.Priority)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestDetail(req)})
}

// Milestone PATCH /requests/:id/milestone.
func (h *RequestsHandler) Milestone(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var payload dto.MilestonePayload
	if err := c.BodyParser(&payload); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(payload.Milestone) == "" {
		return apperrors.NewValidationError("milestone required", nil)
	}
	req, err := h.requests.ReportMilestone(c.Context(), principal.Actor(), c.Params("id"), service.MilestoneInput{
		Milestone:    payload.Milestone,
		Note:         payload.Note,
		EvidenceURLs: payload.EvidenceURLs,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestDetail(req)})
}

// AutoAssign POST /requests/:id/auto-assign.
func (h *RequestsHandler) AutoAssign(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	req, err := h.assignments.AutoAssign(c.Context(), principal.Actor(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestDetail(req)})
}

// ManualAssign POST /requests/:id/assign/:agent_id.
func (h *RequestsHandler) ManualAssign(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	req, err := h.assignments.ManualAssign(c.Context(), principal.Actor(), c.Params("id"), c.Params("agent_id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestDetail(req)})
}

// Escalate POST /requests/:id/escalate.
func (h *RequestsHandler) Escalate(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	req, err := h.requests.Escalate(c.Context(), principal.Actor(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestDetail(req)})
}

// Merge POST /requests/:id/merge.
func (h *RequestsHandler) Merge(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var payload dto.MergePayload
	if err := c.BodyParser(&payload); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if payload.MasterRequestID == "" {
		return apperrors.NewValidationError("master_request_id required", nil)
	}
	req, err := h.requests.MergeDuplicate(c.Context(), principal.Actor(), c.Params("id"), payload.MasterRequestID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestDetail(req)})
}

// Timeline GET /requests/:id/timeline.
func (h *RequestsHandler) Timeline(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	timeline, err := h.requests.GetTimeline(c.Context(), principal.Actor(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": timelineResponse(timeline)})
}

func parseRequestFilter(c *fiber.Ctx) repository.RequestFilter {
	filter := repository.RequestFilter{}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			filter.Statuses = append(filter.Statuses, domain.RequestStatus(strings.TrimSpace(part)))
		}
	}
	if category := c.Query("category"); category != "" {
		filter.Category = &category
	}
	if priorityStr := c.Query("priority"); priorityStr != "" {
		priority := domain.RequestPriority(priorityStr)
		filter.Priority = &priority
	}
	if zone := c.Query("zone_id"); zone != "" {
		filter.ZoneID = &zone
	}
	if agent := c.Query("agent_id"); agent != "" {
		filter.AgentID = &agent
	}
	if citizen := c.Query("citizen_id"); citizen != "" {
		filter.CitizenID = &citizen
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func requestSummaries(requests []domain.ServiceRequest) []dto.RequestSummary {
	items := make([]dto.RequestSummary, 0, len(requests))
	for i := range requests {
		items = append(items, requestSummary(&requests[i]))
	}
	return items
}

func requestSummary(req *domain.ServiceRequest) dto.RequestSummary {
	summary := dto.RequestSummary{
		ID:        req.ID,
		CitizenID: req.CitizenID,
		Category:  req.Category,
		Priority:  req.Priority,
		Status:    req.Status,
		SLAState:  req.SLAComputed.State,
		ZoneID:    req.Location.ZoneID,
		CreatedAt: req.Timestamps.CreatedAt,
		UpdatedAt: req.Timestamps.UpdatedAt,
	}
	if req.Assignment != nil {
		summary.AgentID = &req.Assignment.AgentID
	}
	return summary
}

func requestDetail(req *domain.ServiceRequest) dto.RequestDetail {
	detail := dto.RequestDetail{
		ID:          req.ID,
		CitizenID:   req.CitizenID,
		Category:    req.Category,
		Description: req.Description,
		Priority:    req.Priority,
		Status:      req.Status,
		Workflow: dto.WorkflowView{
			CurrentState: req.Workflow.CurrentState,
			AllowedNext:  req.Workflow.AllowedNext,
		},
		Location: dto.LocationPayload{
			Longitude: req.Location.Longitude,
			Latitude:  req.Location.Latitude,
			ZoneID:    req.Location.ZoneID,
		},
		SLAPolicy: req.SLAPolicy,
		SLA:       req.SLAComputed,
		Timestamps: dto.TimestampsView{
			CreatedAt:     req.Timestamps.CreatedAt,
			TriagedAt:     req.Timestamps.TriagedAt,
			AssignedAt:    req.Timestamps.AssignedAt,
			WorkStartedAt: req.Timestamps.WorkStartedAt,
			ResolvedAt:    req.Timestamps.ResolvedAt,
			ClosedAt:      req.Timestamps.ClosedAt,
			UpdatedAt:     req.Timestamps.UpdatedAt,
		},
		IsMaster:         req.Duplicates.IsMaster,
		MasterRequestID:  req.Duplicates.MasterRequestID,
		LinkedDuplicates: req.Duplicates.LinkedDuplicates,
		EscalationCount:  req.EscalationCount,
		Version:          req.Version,
	}
	if req.Assignment != nil {
		detail.Assignment = &dto.AssignmentView{
			AgentID:    req.Assignment.AgentID,
			AssignedAt: req.Assignment.AssignedAt,
			Method:     req.Assignment.Method,
		}
	}
	return detail
}

func timelineResponse(timeline *domain.Timeline) dto.TimelineResponse {
	events := make([]dto.TimelineEventView, 0, len(timeline.EventStream))
	for _, event := range timeline.EventStream {
		events = append(events, dto.TimelineEventView{
			Type:      event.Type,
			ActorType: string(event.Actor.ActorType),
			ActorID:   event.Actor.ActorID,
			At:        event.At.UTC().Format(time.RFC3339Nano),
			Meta:      event.Meta,
		})
	}
	return dto.TimelineResponse{
		RequestID: timeline.RequestID,
		CreatedAt: timeline.CreatedAt,
		Events:    events,
	}
}
