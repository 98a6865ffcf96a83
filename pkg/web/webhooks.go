package web

import (
	"encoding/json"
	"strings"

	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// ReceiveWebhook queues an inbound webhook for the flow and answers right away.
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	return h.receive(c, false)
}

// ReceiveSyncWebhook runs the flow and answers with the output of its last step.
func (h *APIHandlers) ReceiveSyncWebhook(c fiber.Ctx) error {
	return h.receive(c, true)
}

func (h *APIHandlers) receive(c fiber.Ctx, sync bool) error {
	if h.processor == nil {
		return notFound(c, "webhooks are not served by this instance")
	}

	request, err := webhookRequest(c)
	if err != nil {
		return badRequest(c, "webhook body is not valid JSON")
	}

	execution, err := h.processor.ReceiveWebhook(c.Context(), c.Params("flowId"), request, sync)
	if err != nil {
		return handleServiceError(c, err)
	}

	if execution == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}

	last := execution.ExecutionSteps[len(execution.ExecutionSteps)-1]

	if last.IsFailed() {
		detail, _ := last.ErrorDetails["error"].(string)

		problem := problems.NewStatusProblem(502).
			WithInstance(c.Path()).
			WithType("execution_failed").
			WithDetail(detail)

		return c.Status(fiber.StatusBadGateway).JSON(problem)
	}

	return c.JSON(last.DataOut)
}

// webhookRequest captures headers, query and body of an inbound call. Bodies that are not
// JSON are kept as text, unless the request claims a JSON content type.
func webhookRequest(c fiber.Ctx) (protocol.WebhookRequest, error) {
	request := protocol.WebhookRequest{
		Headers: map[string]any{},
		Query:   map[string]any{},
	}

	c.Request().Header.VisitAll(func(key, value []byte) {
		addValue(request.Headers, strings.ToLower(string(key)), string(value))
	})

	c.Request().URI().QueryArgs().VisitAll(func(key, value []byte) {
		addValue(request.Query, string(key), string(value))
	})

	body := c.Body()
	if len(body) == 0 {
		request.Body = map[string]any{}

		return request, nil
	}

	if err := json.Unmarshal(body, &request.Body); err != nil {
		if strings.Contains(strings.ToLower(c.Get(fiber.HeaderContentType)), "json") {
			return request, err
		}

		request.Body = string(body)
	}

	return request, nil
}

func addValue(values map[string]any, key, value string) {
	switch existing := values[key].(type) {
	case nil:
		values[key] = value
	case string:
		values[key] = []any{existing, value}
	case []any:
		values[key] = append(existing, value)
	}
}
