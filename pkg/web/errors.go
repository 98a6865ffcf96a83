package web

import (
	"errors"

	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

var errUnauthorized = errors.New("caller is not identified")

// validationProblem is a problem carrying the attributes at fault.
type validationProblem struct {
	*problems.Problem

	Errors map[string][]string `json:"errors,omitempty"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func unauthorized(c fiber.Ctx) error {
	problem := problems.NewStatusProblem(401).
		WithInstance(c.Path()).
		WithType("unauthorized").
		WithDetail("the " + UserIDHeader + " header is required")

	return c.Status(fiber.StatusUnauthorized).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

// handleServiceError maps service, persistence and workflow errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	var validationErr *services.ValidationError

	switch {
	case errors.Is(err, errUnauthorized):
		return unauthorized(c)

	case errors.As(err, &validationErr):
		problem := &validationProblem{
			Problem: problems.NewStatusProblem(422).
				WithInstance(c.Path()).
				WithType(validationErr.Type).
				WithDetail(validationErr.Error()),
			Errors: validationErr.Fields,
		}

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case errors.Is(err, workflow.ErrInvalidPayload):
		return badRequest(c, err.Error())

	case errors.Is(err, workflow.ErrFlowNotRunnable),
		errors.Is(err, workflow.ErrNotWebhookTrigger),
		errors.Is(err, workflow.ErrSyncMismatch):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("flow_not_accepting_webhooks").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case services.IsAdapterError(err):
		problem := problems.NewStatusProblem(502).
			WithInstance(c.Path()).
			WithType("adapter_error").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadGateway).JSON(problem)

	case services.IsSchedulerError(err):
		problem := problems.NewStatusProblem(503).
			WithInstance(c.Path()).
			WithType("scheduler_error").
			WithDetail(err.Error())

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)

	case services.IsNotFoundError(err):
		return notFound(c, err.Error())

	default:
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}
}
