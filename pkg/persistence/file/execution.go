package file

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

var timeNow = func() time.Time { return time.Now().UTC() }

type executionRepository struct {
	access access
}

func (r *executionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	var execution *models.Execution

	err := r.access.read(func(state *snapshot) error {
		var err error

		execution, err = state.executionWithSteps(id)

		return err
	})
	if err != nil {
		return nil, err
	}

	return execution, nil
}

// ListByFlow returns the flow's executions newest first. A limit of zero or less returns all of them.
func (r *executionRepository) ListByFlow(_ context.Context, flowID string, limit int) ([]*models.Execution, error) {
	executions := []*models.Execution{}

	err := r.access.read(func(state *snapshot) error {
		for _, stored := range state.newestExecutions(flowID, limit) {
			execution, err := state.executionWithSteps(stored.ID)
			if err != nil {
				return err
			}

			executions = append(executions, execution)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return executions, nil
}

func (r *executionRepository) LastInternalIDs(_ context.Context, flowID string, limit int) ([]string, error) {
	ids := []string{}

	err := r.access.read(func(state *snapshot) error {
		for _, stored := range state.newestExecutions(flowID, limit) {
			ids = append(ids, stored.InternalID)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

func (r *executionRepository) Save(_ context.Context, execution *models.Execution) error {
	if execution.ID == "" {
		return fmt.Errorf("execution ID cannot be empty")
	}

	return r.access.write(func(state *snapshot) error {
		if _, ok := state.Flows[execution.FlowID]; !ok {
			return persistence.NewFlowError("SaveExecution", execution.FlowID, persistence.ErrFlowNotFound)
		}

		stored := &models.Execution{}
		if err := deepCopy(execution, stored); err != nil {
			return fmt.Errorf("failed to copy execution %s: %w", execution.ID, err)
		}

		stored.ExecutionSteps = nil
		state.Executions[execution.ID] = stored

		return nil
	})
}

func (r *executionRepository) SaveStep(_ context.Context, executionStep *models.ExecutionStep) error {
	if executionStep.ID == "" {
		return fmt.Errorf("execution step ID cannot be empty")
	}

	return r.access.write(func(state *snapshot) error {
		if _, ok := state.Executions[executionStep.ExecutionID]; !ok {
			return fmt.Errorf("execution %s: %w", executionStep.ExecutionID, persistence.ErrExecutionNotFound)
		}

		if _, ok := state.Steps[executionStep.StepID]; !ok {
			return persistence.NewStepError("SaveExecutionStep", executionStep.StepID, persistence.ErrStepNotFound)
		}

		stored := &models.ExecutionStep{}
		if err := deepCopy(executionStep, stored); err != nil {
			return fmt.Errorf("failed to copy execution step %s: %w", executionStep.ID, err)
		}

		state.ExecutionSteps[executionStep.ID] = stored

		return nil
	})
}

func (r *executionRepository) DeleteStepsByStep(_ context.Context, stepID string) error {
	return r.access.write(func(state *snapshot) error {
		for id, executionStep := range state.ExecutionSteps {
			if executionStep.StepID == stepID {
				delete(state.ExecutionSteps, id)
			}
		}

		return nil
	})
}

func (r *executionRepository) DeleteByFlow(_ context.Context, flowID string) error {
	return r.access.write(func(state *snapshot) error {
		for id, execution := range state.Executions {
			if execution.FlowID != flowID {
				continue
			}

			for stepID, executionStep := range state.ExecutionSteps {
				if executionStep.ExecutionID == id {
					delete(state.ExecutionSteps, stepID)
				}
			}

			delete(state.Executions, id)
		}

		return nil
	})
}

func (s *snapshot) newestExecutions(flowID string, limit int) []*models.Execution {
	var executions []*models.Execution

	for _, execution := range s.Executions {
		if execution.FlowID == flowID {
			executions = append(executions, execution)
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		if executions[i].CreatedAt.Equal(executions[j].CreatedAt) {
			return executions[i].ID > executions[j].ID
		}

		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	if limit > 0 && len(executions) > limit {
		executions = executions[:limit]
	}

	return executions
}

func (s *snapshot) executionWithSteps(id string) (*models.Execution, error) {
	stored, ok := s.Executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, persistence.ErrExecutionNotFound)
	}

	execution := &models.Execution{}
	if err := deepCopy(stored, execution); err != nil {
		return nil, fmt.Errorf("failed to copy execution %s: %w", id, err)
	}

	execution.ExecutionSteps = []*models.ExecutionStep{}

	for _, storedStep := range s.ExecutionSteps {
		if storedStep.ExecutionID != id {
			continue
		}

		executionStep := &models.ExecutionStep{}
		if err := deepCopy(storedStep, executionStep); err != nil {
			return nil, fmt.Errorf("failed to copy execution step %s: %w", storedStep.ID, err)
		}

		execution.ExecutionSteps = append(execution.ExecutionSteps, executionStep)
	}

	sort.Slice(execution.ExecutionSteps, func(i, j int) bool {
		return execution.ExecutionSteps[i].StartedAt.Before(execution.ExecutionSteps[j].StartedAt)
	})

	return execution, nil
}
