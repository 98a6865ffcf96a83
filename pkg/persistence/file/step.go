package file

import (
	"context"
	"fmt"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

type stepRepository struct {
	access access
}

func (r *stepRepository) GetByID(_ context.Context, id string) (*models.Step, error) {
	step := &models.Step{}

	err := r.access.read(func(state *snapshot) error {
		stored, ok := state.Steps[id]
		if !ok {
			return persistence.NewStepError("GetByID", id, persistence.ErrStepNotFound)
		}

		return deepCopy(stored, step)
	})
	if err != nil {
		return nil, err
	}

	return step, nil
}

func (r *stepRepository) ListByFlow(_ context.Context, flowID string) ([]*models.Step, error) {
	var steps []*models.Step

	err := r.access.read(func(state *snapshot) error {
		var err error

		steps, err = state.stepsOf(flowID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return steps, nil
}

func (r *stepRepository) Save(_ context.Context, step *models.Step) error {
	if step.ID == "" {
		return fmt.Errorf("step ID cannot be empty")
	}

	return r.access.write(func(state *snapshot) error {
		if flow, ok := state.Flows[step.FlowID]; !ok || flow.DeletedAt != nil {
			return persistence.NewFlowError("SaveStep", step.FlowID, persistence.ErrFlowNotFound)
		}

		stored := &models.Step{}
		if err := deepCopy(step, stored); err != nil {
			return persistence.NewStepError("Save", step.ID, err)
		}

		state.Steps[step.ID] = stored

		return nil
	})
}

func (r *stepRepository) ShiftPositions(_ context.Context, flowID string, fromPosition, delta int) error {
	return r.access.write(func(state *snapshot) error {
		now := timeNow()

		for _, step := range state.Steps {
			if step.FlowID == flowID && step.Position >= fromPosition {
				step.Position += delta
				step.UpdatedAt = now
			}
		}

		return nil
	})
}

func (r *stepRepository) Delete(_ context.Context, id string) error {
	return r.access.write(func(state *snapshot) error {
		if _, ok := state.Steps[id]; !ok {
			return persistence.NewStepError("Delete", id, persistence.ErrStepNotFound)
		}

		delete(state.Steps, id)

		return nil
	})
}

func (r *stepRepository) DeleteByFlow(_ context.Context, flowID string) error {
	return r.access.write(func(state *snapshot) error {
		for id, step := range state.Steps {
			if step.FlowID == flowID {
				delete(state.Steps, id)
			}
		}

		return nil
	})
}
