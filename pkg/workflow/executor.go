// Package workflow runs flows: the executor walks a flow's steps for one trigger item and
// the processor decides when a flow runs, from recurring jobs and inbound webhooks.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/template"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "stepflow/workflow"

// ErrNoTriggerStep is returned when a flow without a trigger step is executed.
var ErrNoTriggerStep = errors.New("flow has no trigger step")

// Executor runs the action steps of a flow in position order for one trigger item and
// records every step run.
type Executor struct {
	persistence    persistence.Persistence
	adapters       services.Adapters
	connections    services.ConnectionResolver
	publisher      eventbus.EventPublisher
	tracer         trace.Tracer
	webhookBaseURL string
	logger         *slog.Logger
	now            func() time.Time
}

// NewExecutor creates an executor. A nil tracer falls back to the global provider.
func NewExecutor(deps services.Dependencies, tracer trace.Tracer) *Executor {
	e := &Executor{
		persistence:    deps.Persistence,
		adapters:       deps.Adapters,
		connections:    deps.Connections,
		publisher:      deps.Publisher,
		tracer:         tracer,
		webhookBaseURL: deps.WebhookBaseURL,
		logger:         deps.Logger,
		now:            func() time.Time { return time.Now().UTC() },
	}

	if e.publisher == nil {
		e.publisher = eventbus.NopPublisher{}
	}

	if e.tracer == nil {
		e.tracer = otelhelper.NoopTracer(tracerName)
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}

	e.logger = e.logger.With("module", "workflow_executor")

	return e
}

// Execute records an execution for the trigger item and runs every action after the trigger.
// A failing action is recorded as failed and stops the chain; that is not an error of
// Execute, which only fails when the run cannot be recorded.
func (e *Executor) Execute(ctx context.Context, flow *models.Flow, item protocol.TriggerItem, testRun bool) (*models.Execution, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "flow.execute",
		attribute.String(otelhelper.FlowIDKey, flow.ID),
		attribute.String(otelhelper.FlowNameKey, flow.Name),
		attribute.String(otelhelper.InternalIDKey, item.InternalID),
		attribute.Bool(otelhelper.TestRunKey, testRun),
	)
	defer span.End()

	logger := e.logger.With("flow_id", flow.ID, "internal_id", item.InternalID)

	triggerStep := flow.TriggerStep()
	if triggerStep == nil {
		otelhelper.SetError(span, ErrNoTriggerStep)

		return nil, fmt.Errorf("failed to execute flow %s: %w", flow.ID, ErrNoTriggerStep)
	}

	startedAt := e.now()
	repository := e.persistence.ExecutionRepository()

	execution := &models.Execution{
		ID:         newID(),
		FlowID:     flow.ID,
		InternalID: item.InternalID,
		TestRun:    testRun,
		CreatedAt:  startedAt,
		UpdatedAt:  startedAt,
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, execution.ID))
	logger = logger.With("execution_id", execution.ID)

	if err := repository.Save(ctx, execution); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to save execution: %w", err)
	}

	triggerRun := &models.ExecutionStep{
		ID:          newID(),
		ExecutionID: execution.ID,
		StepID:      triggerStep.ID,
		Status:      models.ExecutionStepStatusSuccess,
		DataIn:      triggerStep.Parameters,
		DataOut:     item.Data,
		StartedAt:   startedAt,
		CompletedAt: &startedAt,
		CreatedAt:   startedAt,
	}

	if err := repository.SaveStep(ctx, triggerRun); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to save trigger step run: %w", err)
	}

	execution.ExecutionSteps = append(execution.ExecutionSteps, triggerRun)

	logger.InfoContext(ctx, "Execution started", "steps", len(flow.Steps))

	models.SortStepsByPosition(flow.Steps)

	for _, step := range flow.Steps {
		if !step.IsAction() {
			continue
		}

		run, err := e.runStep(ctx, flow, step, execution)
		if err != nil {
			otelhelper.SetError(span, err)

			return nil, err
		}

		execution.ExecutionSteps = append(execution.ExecutionSteps, run)

		if run.IsFailed() {
			message, _ := run.ErrorDetails["error"].(string)

			logger.WarnContext(ctx, "Execution stopped at failed step", "step_id", step.ID, "error", message)
			span.SetAttributes(attribute.String(otelhelper.StepIDKey, step.ID))

			e.publish(ctx, flow.ID, events.NewExecutionFailed(flow.ID, execution.ID, step.ID, message, e.now().Sub(startedAt)))

			return execution, nil
		}
	}

	result := execution.ExecutionSteps[len(execution.ExecutionSteps)-1].DataOut

	logger.InfoContext(ctx, "Execution finished", "steps_executed", len(execution.ExecutionSteps))

	e.publish(ctx, flow.ID, events.NewExecutionFinished(flow.ID, execution.ID, len(execution.ExecutionSteps), result, e.now().Sub(startedAt)))

	return execution, nil
}

// runStep runs one action against the outputs recorded so far and persists the step run.
func (e *Executor) runStep(ctx context.Context, flow *models.Flow, step *models.Step, execution *models.Execution) (*models.ExecutionStep, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "step.run",
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.Int(otelhelper.StepPositionKey, step.Position),
		attribute.String(otelhelper.StepAppKey, step.AppKey),
		attribute.String(otelhelper.StepAdapterKey, step.Key),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
	)
	defer span.End()

	startedAt := e.now()

	run := &models.ExecutionStep{
		ID:          newID(),
		ExecutionID: execution.ID,
		StepID:      step.ID,
		StartedAt:   startedAt,
		CreatedAt:   startedAt,
	}

	dataIn, dataOut, err := e.runAction(ctx, flow, step, execution)

	completedAt := e.now()
	run.CompletedAt = &completedAt
	run.DataIn = dataIn

	if err != nil {
		otelhelper.SetError(span, err)

		run.Status = models.ExecutionStepStatusFailure
		run.ErrorDetails = map[string]any{"error": err.Error()}
	} else {
		run.Status = models.ExecutionStepStatusSuccess
		run.DataOut = dataOut
	}

	if err := e.persistence.ExecutionRepository().SaveStep(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run of step %s: %w", step.ID, err)
	}

	return run, nil
}

func (e *Executor) runAction(ctx context.Context, flow *models.Flow, step *models.Step, execution *models.Execution) (map[string]any, map[string]any, error) {
	action, err := e.adapters.Action(step.AppKey, step.Key)
	if err != nil {
		return step.Parameters, nil, err
	}

	fields, err := e.adapters.Fields(step)
	if err != nil {
		return step.Parameters, nil, err
	}

	parameters := template.Resolve(step.Parameters, fields, execution.ExecutionSteps)

	gc, err := services.NewGlobalContext(ctx, e.connections, e.webhookBaseURL, flow, step, execution.TestRun, e.logger)
	if err != nil {
		return parameters, nil, err
	}

	gc.Parameters = parameters

	output, err := action.Run(ctx, gc)
	if err != nil {
		return parameters, nil, err
	}

	if output == nil {
		output = map[string]any{}
	}

	return parameters, output, nil
}

func (e *Executor) publish(ctx context.Context, flowID string, event eventbus.Event) {
	if err := e.publisher.Publish(ctx, flowID, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "flow_id", flowID, "error", err)
	}
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}
