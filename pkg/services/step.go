package services

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// UpdateStepInput is the editable configuration of a step.
type UpdateStepInput struct {
	AppKey       string         `json:"app_key"`
	Key          string         `json:"key"`
	ConnectionID *string        `json:"connection_id"`
	Parameters   map[string]any `json:"parameters"`
}

// Step edits the steps of a flow while keeping positions contiguous.
type Step struct {
	*core
}

// NewStep creates a new step service.
func NewStep(deps Dependencies) *Step {
	return &Step{core: newCore(deps, "step_service")}
}

func (s *Step) FetchByID(ctx context.Context, id string) (*models.Step, error) {
	return s.persistence.StepRepository().GetByID(ctx, id)
}

// TriggerStep returns the trigger step of a flow.
func (s *Step) TriggerStep(ctx context.Context, flowID string) (*models.Step, error) {
	flow, err := s.persistence.FlowRepository().GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	step := flow.TriggerStep()
	if step == nil {
		return nil, persistence.NewStepError("TriggerStep", flowID, persistence.ErrStepNotFound)
	}

	return step, nil
}

// CreateActionStep inserts an empty action right after afterStepID and moves every later
// step one position down.
func (s *Step) CreateActionStep(ctx context.Context, flowID, afterStepID string) (*models.Step, error) {
	var created *models.Step

	err := s.persistence.Atomic(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		flow, err := repos.FlowRepository().GetForUpdate(ctx, flowID)
		if err != nil {
			return err
		}

		previous := flow.StepByID(afterStepID)
		if previous == nil {
			return persistence.NewStepError("CreateActionStep", afterStepID, persistence.ErrStepNotFound)
		}

		position := previous.Position + 1

		if err := repos.StepRepository().ShiftPositions(ctx, flowID, position, 1); err != nil {
			return err
		}

		created = newStep(flowID, models.StepTypeAction, position, s.now())

		return repos.StepRepository().Save(ctx, created)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Action step created", "flow_id", flowID, "step_id", created.ID, "position", created.Position)

	return created, nil
}

// UpdateStep applies a new configuration, recomputes the step status and, for triggers, the
// webhook path. Steps of active flows cannot be left incomplete.
func (s *Step) UpdateStep(ctx context.Context, id string, input UpdateStepInput) (*models.Step, error) {
	var step *models.Step

	err := s.persistence.Atomic(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		var err error

		step, err = repos.StepRepository().GetByID(ctx, id)
		if err != nil {
			return err
		}

		flow, err := repos.FlowRepository().GetForUpdate(ctx, step.FlowID)
		if err != nil {
			return err
		}

		if err := s.checkAdapter(step.Type, input.AppKey, input.Key); err != nil {
			return err
		}

		step.AppKey = input.AppKey
		step.Key = input.Key
		step.ConnectionID = input.ConnectionID

		step.Parameters = input.Parameters
		if step.Parameters == nil {
			step.Parameters = map[string]any{}
		}

		step.Status = s.stepStatus(step)
		step.WebhookPath = s.webhookPath(flow.ID, step)
		step.UpdatedAt = s.now()

		if flow.Active {
			replaceStep(flow, step)

			if err := checkStructure(flow); err != nil {
				return err
			}
		}

		return repos.StepRepository().Save(ctx, step)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Step updated", "flow_id", step.FlowID, "step_id", step.ID, "status", step.Status)

	return step, nil
}

// DeleteStep removes an action step with its execution steps and closes the position gap.
// It returns the flow with its remaining steps.
func (s *Step) DeleteStep(ctx context.Context, id string) (*models.Flow, error) {
	var flow *models.Flow

	err := s.persistence.Atomic(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		step, err := repos.StepRepository().GetByID(ctx, id)
		if err != nil {
			return err
		}

		if step.IsTrigger() {
			return newValidationError("step", "the trigger step cannot be deleted", ErrCannotDeleteTrigger)
		}

		flow, err = repos.FlowRepository().GetForUpdate(ctx, step.FlowID)
		if err != nil {
			return err
		}

		if err := repos.ExecutionRepository().DeleteStepsByStep(ctx, step.ID); err != nil {
			return err
		}

		if err := repos.StepRepository().Delete(ctx, step.ID); err != nil {
			return err
		}

		if err := repos.StepRepository().ShiftPositions(ctx, step.FlowID, step.Position+1, -1); err != nil {
			return err
		}

		flow.Steps, err = repos.StepRepository().ListByFlow(ctx, step.FlowID)
		if err != nil {
			return err
		}

		if flow.Active {
			return checkStructure(flow)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Step deleted", "flow_id", flow.ID, "step_id", id)

	if err := s.populateStatus(ctx, flow); err != nil {
		return nil, err
	}

	return flow, nil
}

// checkAdapter rejects adapters that are unknown or do not match the step type.
// A blank app and key leave the step unconfigured.
func (s *Step) checkAdapter(stepType models.StepType, appKey, key string) error {
	if appKey == "" && key == "" {
		return nil
	}

	var err error

	if stepType == models.StepTypeTrigger {
		_, err = s.adapters.Trigger(appKey, key)
	} else {
		_, err = s.adapters.Action(appKey, key)
	}

	if err != nil {
		return newValidationError("key", err.Error(), err)
	}

	return nil
}

func replaceStep(flow *models.Flow, step *models.Step) {
	for i, existing := range flow.Steps {
		if existing.ID == step.ID {
			flow.Steps[i] = step

			return
		}
	}
}
