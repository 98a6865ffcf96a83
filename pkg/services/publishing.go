package services

import (
	"context"
	"errors"

	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/scheduler"
)

// ErrSchedulerUnavailable is returned when a poll flow is toggled without a scheduler.
var ErrSchedulerUnavailable = errors.New("no recurring job scheduler configured")

// Publishing moves flows between draft and published and keeps the trigger side effects
// (remote webhook, recurring job) in step with the active flag.
type Publishing struct {
	*core
}

// NewPublishing creates a new flow publishing service.
func NewPublishing(deps Dependencies) *Publishing {
	return &Publishing{core: newCore(deps, "publishing_service")}
}

// SetActive persists the active flag of a flow. The flow row stays locked while the trigger
// side effects run, and any failure rolls the whole transition back.
func (p *Publishing) SetActive(ctx context.Context, flowID string, active bool) (*models.Flow, error) {
	var (
		flow    *models.Flow
		step    *models.Step
		trigger protocol.Trigger
		applied bool
		changed bool
	)

	err := p.persistence.Atomic(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		var err error

		flow, err = repos.FlowRepository().GetForUpdate(ctx, flowID)
		if err != nil {
			return err
		}

		if flow.Active == active {
			return nil
		}

		step = flow.TriggerStep()
		if step == nil || step.Status == models.StepStatusIncomplete {
			return newIncompleteStepsError()
		}

		if active {
			if err := checkStructure(flow); err != nil {
				return err
			}
		}

		trigger, err = p.trigger(step)
		if err != nil {
			return err
		}

		switch trigger.Kind() {
		case protocol.TriggerKindWebhook:
			err = p.toggleWebhook(ctx, flow, step, trigger, active)
		case protocol.TriggerKindPoll:
			err = p.togglePoll(ctx, flow, step, trigger, active)
		case protocol.TriggerKindNone:
		}

		if err != nil {
			return err
		}

		applied = true

		flow.Active = active
		flow.UpdatedAt = p.now()
		changed = true

		return repos.FlowRepository().Save(ctx, flow)
	})
	if err != nil {
		if applied {
			p.compensate(ctx, flow, step, trigger, active)
		}

		return nil, err
	}

	if err := p.populateStatus(ctx, flow); err != nil {
		return nil, err
	}

	if changed {
		p.logger.InfoContext(ctx, "Flow status updated", "flow_id", flow.ID, "active", active, "trigger_kind", trigger.Kind())

		if active {
			p.publish(ctx, flow.ID, events.NewFlowPublished(flow.ID, flow.OwnerID, step.AppKey, step.Key, string(trigger.Kind())))
		} else {
			p.publish(ctx, flow.ID, events.NewFlowUnpublished(flow.ID, flow.OwnerID))
		}
	}

	return flow, nil
}

func (p *Publishing) toggleWebhook(ctx context.Context, flow *models.Flow, step *models.Step, trigger protocol.Trigger, active bool) error {
	gc, err := p.globalContext(ctx, flow, step, false)
	if err != nil {
		return err
	}

	if active {
		registerer, ok := trigger.(protocol.HookRegisterer)
		if !ok {
			return nil
		}

		if err := registerer.RegisterHook(ctx, gc); err != nil {
			return &AdapterError{Op: "registerHook", AppKey: step.AppKey, Key: step.Key, Err: err}
		}

		return nil
	}

	unregisterer, ok := trigger.(protocol.HookUnregisterer)
	if !ok {
		return nil
	}

	if err := unregisterer.UnregisterHook(ctx, gc); err != nil {
		return &AdapterError{Op: "unregisterHook", AppKey: step.AppKey, Key: step.Key, Err: err}
	}

	return nil
}

func (p *Publishing) togglePoll(ctx context.Context, flow *models.Flow, step *models.Step, trigger protocol.Trigger, active bool) error {
	if p.scheduler == nil {
		return &SchedulerError{Op: "togglePoll", JobKey: flow.ID, Err: ErrSchedulerUnavailable}
	}

	if !active {
		return p.removeRecurringJob(ctx, flow.ID)
	}

	publishedAt := p.now()
	flow.PublishedAt = &publishedAt

	pattern := scheduler.EveryFifteenMinutes

	if provider, ok := trigger.(protocol.IntervalProvider); ok {
		if interval := provider.Interval(step.Parameters); interval != "" {
			pattern = interval
		}
	}

	err := p.scheduler.AddRecurring(ctx, flow.ID, map[string]any{"flowId": flow.ID}, pattern)
	if err != nil {
		return asSchedulerError("AddRecurring", flow.ID, err)
	}

	p.logger.DebugContext(ctx, "Recurring job added", "flow_id", flow.ID, "job_key", flow.ID, "pattern", pattern)

	return nil
}

// compensate reverts the trigger side effects of a transition whose flow update was rolled back.
func (p *Publishing) compensate(ctx context.Context, flow *models.Flow, step *models.Step, trigger protocol.Trigger, active bool) {
	flow.Active = !active

	var err error

	switch trigger.Kind() {
	case protocol.TriggerKindWebhook:
		err = p.toggleWebhook(ctx, flow, step, trigger, !active)
	case protocol.TriggerKindPoll:
		err = p.togglePoll(ctx, flow, step, trigger, !active)
	case protocol.TriggerKindNone:
	}

	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to revert trigger side effects", "flow_id", flow.ID, "active", active, "error", err)
	}
}

// removeRecurringJob removes the registration whose job id is the flow id. A flow without
// a registration has nothing to remove.
func (c *core) removeRecurringJob(ctx context.Context, flowID string) error {
	jobs, err := c.scheduler.ListRecurring(ctx)
	if err != nil {
		return asSchedulerError("ListRecurring", flowID, err)
	}

	for _, job := range jobs {
		if job.ID != flowID {
			continue
		}

		if err := c.scheduler.RemoveRecurring(ctx, job.Key); err != nil {
			return asSchedulerError("RemoveRecurring", job.Key, err)
		}

		c.logger.DebugContext(ctx, "Recurring job removed", "flow_id", flowID, "job_key", job.Key)

		return nil
	}

	c.logger.WarnContext(ctx, "No recurring job registered for flow", "flow_id", flowID)

	return nil
}

func asSchedulerError(op, jobKey string, err error) error {
	var schedulerErr *SchedulerError
	if errors.As(err, &schedulerErr) {
		return err
	}

	return &SchedulerError{Op: op, JobKey: jobKey, Err: err}
}
