package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

// NewGlobalContext builds the adapter context of a step. The connection is resolved when
// the step has one and a resolver is configured.
func NewGlobalContext(
	ctx context.Context,
	connections ConnectionResolver,
	webhookBaseURL string,
	flow *models.Flow,
	step *models.Step,
	testRun bool,
	logger *slog.Logger,
) (*protocol.GlobalContext, error) {
	gc := &protocol.GlobalContext{
		Flow:       flow,
		Step:       step,
		Parameters: step.Parameters,
		TestRun:    testRun,
		Logger:     logger.With("flow_id", flow.ID, "step_id", step.ID),
	}

	if step.WebhookPath != nil {
		gc.WebhookURL = WebhookURL(webhookBaseURL, *step.WebhookPath)
	}

	if step.ConnectionID != nil && connections != nil {
		connection, err := connections.Connection(ctx, *step.ConnectionID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve connection %s: %w", *step.ConnectionID, err)
		}

		gc.Connection = connection
	}

	return gc, nil
}

// WebhookURL joins the public base URL and a webhook path.
func WebhookURL(baseURL, path string) string {
	return strings.TrimSuffix(baseURL, "/") + path
}
