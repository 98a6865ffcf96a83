package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/go-playground/validator/v10"
)

// DefaultFlowName is the name given to flows created without one.
const DefaultFlowName = "Name your flow"

var validate = validator.New(validator.WithRequiredStructEnabled())

type Flow struct {
	*core
}

// NewFlow creates a new flow service.
func NewFlow(deps Dependencies) *Flow {
	return &Flow{core: newCore(deps, "flow_service")}
}

// HealthCheck checks the health of the persistence layer.
func (f *Flow) HealthCheck(ctx context.Context) (string, bool) {
	if f.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := f.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Create adds a new flow owned by ownerID together with its bootstrap trigger and action steps.
func (f *Flow) Create(ctx context.Context, ownerID, name string) (*models.Flow, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultFlowName
	}

	now := f.now()
	flow := &models.Flow{
		ID:        newID(),
		Name:      name,
		OwnerID:   strings.TrimSpace(ownerID),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := validateFlow(flow); err != nil {
		return nil, err
	}

	err := f.persistence.Atomic(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		if err := repos.FlowRepository().Save(ctx, flow); err != nil {
			return err
		}

		flow.Steps = []*models.Step{
			newStep(flow.ID, models.StepTypeTrigger, 1, now),
			newStep(flow.ID, models.StepTypeAction, 2, now),
		}

		for _, step := range flow.Steps {
			if err := repos.StepRepository().Save(ctx, step); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create flow: %w", err)
	}

	f.logger.InfoContext(ctx, "Flow created", "flow_id", flow.ID, "owner_id", flow.OwnerID)

	if err := f.populateStatus(ctx, flow); err != nil {
		return nil, err
	}

	return flow, nil
}

// FetchByID retrieves a flow with its steps and derived status.
func (f *Flow) FetchByID(ctx context.Context, id string) (*models.Flow, error) {
	flow, err := f.persistence.FlowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := f.populateStatus(ctx, flow); err != nil {
		return nil, err
	}

	return flow, nil
}

// ListByOwner retrieves the flows of a user with their derived status.
func (f *Flow) ListByOwner(ctx context.Context, ownerID string) ([]*models.Flow, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, newValidationError("owner_id", "is required", ErrEmptyOwnerID)
	}

	flows, err := f.persistence.FlowRepository().ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	if err := f.populateStatus(ctx, flows...); err != nil {
		return nil, err
	}

	return flows, nil
}

// DefaultExecutionsLimit bounds Executions when no limit is given.
const DefaultExecutionsLimit = 20

// Executions returns the latest executions of a flow with their step runs, newest first.
func (f *Flow) Executions(ctx context.Context, flowID string, limit int) ([]*models.Execution, error) {
	if _, err := f.persistence.FlowRepository().GetByID(ctx, flowID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultExecutionsLimit
	}

	executions, err := f.persistence.ExecutionRepository().ListByFlow(ctx, flowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

// Rename changes the name of a flow. Active flows must still pass the structural guards.
func (f *Flow) Rename(ctx context.Context, id, name string) (*models.Flow, error) {
	var flow *models.Flow

	err := f.persistence.Atomic(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		var err error

		flow, err = repos.FlowRepository().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		flow.Name = strings.TrimSpace(name)
		if err := validateFlow(flow); err != nil {
			return err
		}

		if flow.Active {
			if err := checkStructure(flow); err != nil {
				return err
			}
		}

		flow.UpdatedAt = f.now()

		return repos.FlowRepository().Save(ctx, flow)
	})
	if err != nil {
		return nil, err
	}

	if err := f.populateStatus(ctx, flow); err != nil {
		return nil, err
	}

	return flow, nil
}

// Delete removes a flow. The remote webhook and the recurring job are released on a best
// effort basis first, then execution steps, executions, steps and the flow are deleted.
func (f *Flow) Delete(ctx context.Context, id string) error {
	flow, err := f.persistence.FlowRepository().GetByID(ctx, id)
	if err != nil {
		return err
	}

	f.releaseTrigger(ctx, flow)

	err = f.persistence.Atomic(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		if _, err := repos.FlowRepository().GetForUpdate(ctx, id); err != nil {
			return err
		}

		if err := repos.ExecutionRepository().DeleteByFlow(ctx, id); err != nil {
			return err
		}

		if err := repos.StepRepository().DeleteByFlow(ctx, id); err != nil {
			return err
		}

		return repos.FlowRepository().Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}

	f.logger.InfoContext(ctx, "Flow deleted", "flow_id", id)
	f.publish(ctx, id, events.NewFlowDeleted(id, flow.OwnerID))

	return nil
}

// releaseTrigger undoes the remote side effects of a flow's trigger. Failures are logged
// and ignored since the remote resource might already be gone.
func (f *Flow) releaseTrigger(ctx context.Context, flow *models.Flow) {
	step := flow.TriggerStep()
	if step == nil || step.AppKey == "" || step.Key == "" {
		return
	}

	trigger, err := f.adapters.Trigger(step.AppKey, step.Key)
	if err != nil {
		f.logger.DebugContext(ctx, "Skipping trigger release", "flow_id", flow.ID, "error", err)

		return
	}

	switch trigger.Kind() {
	case protocol.TriggerKindWebhook:
		unregisterer, ok := trigger.(protocol.HookUnregisterer)
		if !ok {
			return
		}

		gc, err := f.globalContext(ctx, flow, step, false)
		if err != nil {
			f.logger.DebugContext(ctx, "Failed to unregister webhook", "flow_id", flow.ID, "error", err)

			return
		}

		unregisterCtx, cancel := context.WithTimeout(ctx, f.unregisterTimeout)
		defer cancel()

		done := make(chan error, 1)

		go func() {
			done <- unregisterer.UnregisterHook(unregisterCtx, gc)
		}()

		select {
		case err := <-done:
			if err != nil {
				f.logger.DebugContext(ctx, "Failed to unregister webhook", "flow_id", flow.ID, "error", err)
			}
		case <-unregisterCtx.Done():
			// The hook is treated as already removed.
			f.logger.DebugContext(ctx, "Webhook unregistration timed out", "flow_id", flow.ID, "timeout", f.unregisterTimeout)
		}
	case protocol.TriggerKindPoll:
		if !flow.Active || f.scheduler == nil {
			return
		}

		err := f.removeRecurringJob(ctx, flow.ID)
		if err != nil {
			f.logger.DebugContext(ctx, "Failed to remove recurring job", "flow_id", flow.ID, "error", err)
		}
	case protocol.TriggerKindNone:
	}
}

func newStep(flowID string, stepType models.StepType, position int, now time.Time) *models.Step {
	return &models.Step{
		ID:         newID(),
		FlowID:     flowID,
		Type:       stepType,
		Position:   position,
		Parameters: map[string]any{},
		Status:     models.StepStatusIncomplete,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func validateFlow(flow *models.Flow) error {
	err := validate.Struct(flow)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	fields := make(map[string][]string, len(validationErrs))

	for _, fieldErr := range validationErrs {
		field := fieldName(fieldErr.Field())
		fields[field] = append(fields[field], "failed on "+fieldErr.Tag())
	}

	return &ValidationError{Type: ValidationErrorType, Fields: fields, Err: ErrInvalidRequest}
}

func fieldName(name string) string {
	switch name {
	case "OwnerID":
		return "owner_id"
	default:
		return strings.ToLower(name)
	}
}
