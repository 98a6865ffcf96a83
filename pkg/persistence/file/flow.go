package file

import (
	"context"
	"fmt"
	"sort"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

type flowRepository struct {
	access access
}

func (r *flowRepository) GetByID(_ context.Context, id string) (*models.Flow, error) {
	var flow *models.Flow

	err := r.access.read(func(state *snapshot) error {
		var err error

		flow, err = state.flowWithSteps(id)

		return err
	})
	if err != nil {
		return nil, err
	}

	return flow, nil
}

// GetForUpdate needs no lock of its own: transactions are already serialized by the store.
func (r *flowRepository) GetForUpdate(ctx context.Context, id string) (*models.Flow, error) {
	return r.GetByID(ctx, id)
}

func (r *flowRepository) ListByOwner(_ context.Context, ownerID string) ([]*models.Flow, error) {
	return r.list(func(flow *models.Flow) bool { return flow.OwnerID == ownerID })
}

func (r *flowRepository) ListActive(_ context.Context) ([]*models.Flow, error) {
	return r.list(func(flow *models.Flow) bool { return flow.Active })
}

func (r *flowRepository) list(match func(flow *models.Flow) bool) ([]*models.Flow, error) {
	flows := []*models.Flow{}

	err := r.access.read(func(state *snapshot) error {
		for id, stored := range state.Flows {
			if stored.DeletedAt != nil || !match(stored) {
				continue
			}

			flow, err := state.flowWithSteps(id)
			if err != nil {
				return err
			}

			flows = append(flows, flow)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(flows, func(i, j int) bool {
		if flows[i].CreatedAt.Equal(flows[j].CreatedAt) {
			return flows[i].ID < flows[j].ID
		}

		return flows[i].CreatedAt.Before(flows[j].CreatedAt)
	})

	return flows, nil
}

func (r *flowRepository) Save(_ context.Context, flow *models.Flow) error {
	if flow.ID == "" {
		return fmt.Errorf("flow ID cannot be empty")
	}

	return r.access.write(func(state *snapshot) error {
		stored := &models.Flow{}
		if err := deepCopy(flow, stored); err != nil {
			return persistence.NewFlowError("Save", flow.ID, err)
		}

		stored.Steps = nil
		stored.Status = ""
		state.Flows[flow.ID] = stored

		return nil
	})
}

// Delete soft-deletes the flow. Steps and executions must be removed beforehand.
func (r *flowRepository) Delete(_ context.Context, id string) error {
	return r.access.write(func(state *snapshot) error {
		stored, ok := state.Flows[id]
		if !ok || stored.DeletedAt != nil {
			return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
		}

		now := timeNow()
		stored.DeletedAt = &now

		return nil
	})
}

func (s *snapshot) flowWithSteps(id string) (*models.Flow, error) {
	stored, ok := s.Flows[id]
	if !ok || stored.DeletedAt != nil {
		return nil, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
	}

	flow := &models.Flow{}
	if err := deepCopy(stored, flow); err != nil {
		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	steps, err := s.stepsOf(id)
	if err != nil {
		return nil, err
	}

	flow.Steps = steps

	return flow, nil
}

func (s *snapshot) stepsOf(flowID string) ([]*models.Step, error) {
	steps := []*models.Step{}

	for _, stored := range s.Steps {
		if stored.FlowID != flowID {
			continue
		}

		step := &models.Step{}
		if err := deepCopy(stored, step); err != nil {
			return nil, persistence.NewStepError("ListByFlow", stored.ID, err)
		}

		steps = append(steps, step)
	}

	models.SortStepsByPosition(steps)

	return steps, nil
}
