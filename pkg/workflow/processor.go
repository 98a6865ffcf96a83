package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/scheduler"
	"github.com/dukex/stepflow/pkg/services"
)

// DuplicateWindow is how many of a flow's latest executions are checked for an item's
// internal id before the item runs again.
const DuplicateWindow = 50

var (
	ErrFlowNotRunnable   = errors.New("flow is not published")
	ErrNotWebhookTrigger = errors.New("flow is not triggered by a webhook")
	ErrNotPollTrigger    = errors.New("flow is not triggered by polling")
	ErrSyncMismatch      = errors.New("webhook does not match the trigger's synchronous mode")
	ErrInvalidPayload    = errors.New("webhook payload is invalid")
)

// Processor decides when flows run. Recurring jobs poll the trigger and run new items,
// webhooks run the payload they carry.
type Processor struct {
	persistence    persistence.Persistence
	adapters       services.Adapters
	runPolicy      services.RunPolicy
	connections    services.ConnectionResolver
	publisher      eventbus.EventPublisher
	executor       *Executor
	webhookBaseURL string
	logger         *slog.Logger
}

// NewProcessor creates a processor running flows with the given executor.
func NewProcessor(deps services.Dependencies, executor *Executor) *Processor {
	p := &Processor{
		persistence:    deps.Persistence,
		adapters:       deps.Adapters,
		runPolicy:      deps.RunPolicy,
		connections:    deps.Connections,
		publisher:      deps.Publisher,
		executor:       executor,
		webhookBaseURL: deps.WebhookBaseURL,
		logger:         deps.Logger,
	}

	if p.runPolicy == nil {
		p.runPolicy = services.AllowAll{}
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	p.logger = p.logger.With("module", "workflow_processor")

	return p
}

// HandleRecurringJob polls the trigger of the job's flow and executes the items not seen
// in the flow's latest executions, oldest first. Flows that are not published, or whose
// owner may not run flows, are skipped.
func (p *Processor) HandleRecurringJob(ctx context.Context, job scheduler.RecurringJob) error {
	flowID := job.ID
	if id, ok := job.Payload["flowId"].(string); ok && id != "" {
		flowID = id
	}

	logger := p.logger.With("flow_id", flowID, "job_key", job.Key)

	flow, runnable, err := p.loadRunnable(ctx, flowID)
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			logger.WarnContext(ctx, "Recurring job for unknown flow")

			return nil
		}

		return err
	}

	if !runnable {
		logger.DebugContext(ctx, "Skipping flow that is not runnable", "active", flow.Active)

		return nil
	}

	step := flow.TriggerStep()
	if step == nil {
		return fmt.Errorf("flow %s: %w", flow.ID, ErrNoTriggerStep)
	}

	trigger, err := p.adapters.Trigger(step.AppKey, step.Key)
	if err != nil {
		return &services.AdapterError{Op: "resolve", AppKey: step.AppKey, Key: step.Key, Err: err}
	}

	poller, ok := trigger.(protocol.Poller)
	if !ok {
		return fmt.Errorf("flow %s: %w", flow.ID, ErrNotPollTrigger)
	}

	gc, err := services.NewGlobalContext(ctx, p.connections, p.webhookBaseURL, flow, step, false, p.logger)
	if err != nil {
		return err
	}

	items, err := poller.Poll(ctx, gc)
	if err != nil {
		return &services.AdapterError{Op: "poll", AppKey: step.AppKey, Key: step.Key, Err: err}
	}

	fresh, err := p.unseen(ctx, flow.ID, items)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Trigger polled", "items", len(items), "new_items", len(fresh))

	for _, item := range fresh {
		if _, err := p.executor.Execute(ctx, flow, item, false); err != nil {
			return err
		}
	}

	return nil
}

// unseen drops items whose internal id is among the flow's latest executions and returns
// the rest oldest first. Items arrive newest first.
func (p *Processor) unseen(ctx context.Context, flowID string, items []protocol.TriggerItem) ([]protocol.TriggerItem, error) {
	seen, err := p.persistence.ExecutionRepository().LastInternalIDs(ctx, flowID, DuplicateWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest internal ids: %w", err)
	}

	fresh := make([]protocol.TriggerItem, 0, len(items))

	for _, item := range items {
		if slices.Contains(seen, item.InternalID) {
			continue
		}

		fresh = append(fresh, item)
	}

	slices.Reverse(fresh)

	return fresh, nil
}

// ReceiveWebhook accepts an inbound webhook for a flow. The trigger step outputs the
// request headers, query and body. Synchronous webhooks execute
// immediately and return the execution. Asynchronous ones are queued as a flow.triggered
// event and return nil, unless no publisher is configured, in which case they run inline.
func (p *Processor) ReceiveWebhook(ctx context.Context, flowID string, request protocol.WebhookRequest, sync bool) (*models.Execution, error) {
	flow, runnable, err := p.loadRunnable(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if !runnable {
		return nil, fmt.Errorf("flow %s: %w", flowID, ErrFlowNotRunnable)
	}

	step := flow.TriggerStep()
	if step == nil {
		return nil, fmt.Errorf("flow %s: %w", flow.ID, ErrNoTriggerStep)
	}

	trigger, err := p.adapters.Trigger(step.AppKey, step.Key)
	if err != nil {
		return nil, &services.AdapterError{Op: "resolve", AppKey: step.AppKey, Key: step.Key, Err: err}
	}

	if trigger.Kind() != protocol.TriggerKindWebhook {
		return nil, fmt.Errorf("flow %s: %w", flow.ID, ErrNotWebhookTrigger)
	}

	if protocol.IsSynchronous(trigger) != sync {
		return nil, fmt.Errorf("flow %s: %w", flow.ID, ErrSyncMismatch)
	}

	if validator, ok := trigger.(protocol.PayloadValidator); ok {
		gc, err := services.NewGlobalContext(ctx, p.connections, p.webhookBaseURL, flow, step, false, p.logger)
		if err != nil {
			return nil, err
		}

		if err := validator.ValidatePayload(gc, request.Body); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
	}

	item := protocol.TriggerItem{InternalID: newID(), Data: request.Data()}

	if sync || p.publisher == nil {
		return p.executor.Execute(ctx, flow, item, false)
	}

	event := events.NewFlowTriggered(flow.ID, step.ID, item.InternalID, item.Data)
	if err := p.publisher.Publish(ctx, flow.ID, event); err != nil {
		return nil, fmt.Errorf("failed to queue webhook for flow %s: %w", flow.ID, err)
	}

	p.logger.InfoContext(ctx, "Webhook queued", "flow_id", flow.ID, "internal_id", item.InternalID)

	return nil, nil
}

// HandleFlowTriggered executes a queued webhook. It is registered as the flow.triggered
// event handler of the worker.
func (p *Processor) HandleFlowTriggered(ctx context.Context, event any) error {
	triggered, ok := event.(*events.FlowTriggered)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	flow, runnable, err := p.loadRunnable(ctx, triggered.FlowID)
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			p.logger.WarnContext(ctx, "Triggered flow no longer exists", "flow_id", triggered.FlowID)

			return nil
		}

		return err
	}

	if !runnable {
		p.logger.InfoContext(ctx, "Dropping trigger of flow that is not runnable", "flow_id", flow.ID)

		return nil
	}

	item := protocol.TriggerItem{InternalID: triggered.InternalID, Data: triggered.Data}

	_, err = p.executor.Execute(ctx, flow, item, triggered.TestRun)

	return err
}

// loadRunnable loads a flow and reports whether it is published and its owner may run flows.
func (p *Processor) loadRunnable(ctx context.Context, flowID string) (*models.Flow, bool, error) {
	flow, err := p.persistence.FlowRepository().GetByID(ctx, flowID)
	if err != nil {
		return nil, false, err
	}

	if !flow.Active {
		flow.Status = models.FlowStatusDraft

		return flow, false, nil
	}

	allowed, err := p.runPolicy.AllowedToRunFlows(ctx, flow.OwnerID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check run policy for %s: %w", flow.OwnerID, err)
	}

	flow.Status = models.ComputeStatus(flow.Active, allowed)

	return flow, allowed, nil
}
