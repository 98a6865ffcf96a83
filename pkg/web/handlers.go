package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	flowService       *services.Flow
	stepService       *services.Step
	publishingService *services.Publishing
	processor         *workflow.Processor
	validator         *validator.Validate
	registry          *registry.Registry
}

func NewAPIHandlers(
	flowService *services.Flow,
	stepService *services.Step,
	publishingService *services.Publishing,
	processor *workflow.Processor,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		flowService:       flowService,
		stepService:       stepService,
		publishingService: publishingService,
		processor:         processor,
		validator:         validator,
		registry:          registry,
	}
}

// Register mounts every route on the router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)
	router.Get("/apps", h.GetApps)

	f := router.Group("/flows")
	f.Get("/", h.GetFlows)
	f.Post("/", h.CreateFlow)
	f.Get("/:id", h.GetFlow)
	f.Patch("/:id", h.RenameFlow)
	f.Delete("/:id", h.DeleteFlow)
	f.Patch("/:id/status", h.UpdateFlowStatus)
	f.Post("/:id/duplicate", h.DuplicateFlow)
	f.Get("/:id/executions", h.GetExecutions)
	f.Post("/:id/steps", h.CreateStep)

	s := router.Group("/steps")
	s.Patch("/:stepId", h.UpdateStep)
	s.Delete("/:stepId", h.DeleteStep)

	w := router.Group("/webhooks/flows")
	w.All("/:flowId", h.ReceiveWebhook)
	w.All("/:flowId/sync", h.ReceiveSyncWebhook)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.flowService.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetApps(c fiber.Ctx) error {
	apps := h.registry.Apps()

	response := make([]AppResponse, 0, len(apps))
	for _, app := range apps {
		response = append(response, TransformAppResponse(app))
	}

	return c.JSON(response)
}

func (h *APIHandlers) GetFlows(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	flows, err := h.flowService.ListByOwner(c.Context(), userID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flows)
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	var req CreateFlowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow, err := h.flowService.Create(c.Context(), userID, req.Name)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(flow)
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	flow, err := h.ownedFlow(c, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) RenameFlow(c fiber.Ctx) error {
	flow, err := h.ownedFlow(c, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	var req RenameFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	renamed, err := h.flowService.Rename(c.Context(), flow.ID, req.Name)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(renamed)
}

func (h *APIHandlers) DeleteFlow(c fiber.Ctx) error {
	flow, err := h.ownedFlow(c, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if err := h.flowService.Delete(c.Context(), flow.ID); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) UpdateFlowStatus(c fiber.Ctx) error {
	flow, err := h.ownedFlow(c, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	var req UpdateStatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.publishingService.SetActive(c.Context(), flow.ID, *req.Active)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DuplicateFlow(c fiber.Ctx) error {
	flow, err := h.ownedFlow(c, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	duplicated, err := h.flowService.Duplicate(c.Context(), flow.ID, flow.OwnerID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(duplicated)
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	flow, err := h.ownedFlow(c, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			return badRequest(c, "Invalid query parameters: limit must be a positive integer")
		}
	}

	executions, err := h.flowService.Executions(c.Context(), flow.ID, limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(executions)
}

func (h *APIHandlers) CreateStep(c fiber.Ctx) error {
	flow, err := h.ownedFlow(c, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	var req CreateStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	step, err := h.stepService.CreateActionStep(c.Context(), flow.ID, req.PreviousStepID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(step)
}

func (h *APIHandlers) UpdateStep(c fiber.Ctx) error {
	step, err := h.ownedStep(c, c.Params("stepId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	var req UpdateStepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.stepService.UpdateStep(c.Context(), step.ID, services.UpdateStepInput{
		AppKey:       req.AppKey,
		Key:          req.Key,
		ConnectionID: req.ConnectionID,
		Parameters:   req.Parameters,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteStep(c fiber.Ctx) error {
	step, err := h.ownedStep(c, c.Params("stepId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	flow, err := h.stepService.DeleteStep(c.Context(), step.ID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func currentUser(c fiber.Ctx) (string, bool) {
	userID := strings.TrimSpace(c.Get(UserIDHeader))

	return userID, userID != ""
}

// ownedFlow loads a flow of the calling user. Flows of other users are reported as missing.
func (h *APIHandlers) ownedFlow(c fiber.Ctx, id string) (*models.Flow, error) {
	userID, ok := currentUser(c)
	if !ok {
		return nil, errUnauthorized
	}

	flow, err := h.flowService.FetchByID(c.Context(), id)
	if err != nil {
		return nil, err
	}

	if flow.OwnerID != userID {
		return nil, persistence.NewFlowError("FetchByID", id, persistence.ErrFlowNotFound)
	}

	return flow, nil
}

func (h *APIHandlers) ownedStep(c fiber.Ctx, id string) (*models.Step, error) {
	step, err := h.stepService.FetchByID(c.Context(), id)
	if err != nil {
		return nil, err
	}

	if _, err := h.ownedFlow(c, step.FlowID); err != nil {
		if persistence.IsFlowNotFound(err) {
			return nil, persistence.NewStepError("FetchByID", id, persistence.ErrStepNotFound)
		}

		return nil, err
	}

	return step, nil
}
