package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	fp := NewPersistence("/tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)

	fp = NewPersistence("file:///tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence_Close(t *testing.T) {
	fp := NewPersistence("./test-data")
	assert.NoError(t, fp.Close(t.Context()))
}

func TestPersistence_HealthCheck(t *testing.T) {
	assert.NoError(t, NewPersistence(t.TempDir()).HealthCheck(t.Context()))
	assert.ErrorIs(t, NewPersistence(filepath.Join(t.TempDir(), "missing")).HealthCheck(t.Context()), os.ErrNotExist)
}

func seedFlow(t *testing.T, fp *Persistence, flowID string, steps int) *models.Flow {
	t.Helper()

	now := time.Now().UTC()
	flow := &models.Flow{ID: flowID, Name: "Flow " + flowID, OwnerID: "user-1", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, fp.FlowRepository().Save(t.Context(), flow))

	for i := 1; i <= steps; i++ {
		stepType := models.StepTypeAction
		if i == 1 {
			stepType = models.StepTypeTrigger
		}

		step := &models.Step{
			ID:         flowID + "-step-" + string(rune('0'+i)),
			FlowID:     flowID,
			Type:       stepType,
			Position:   i,
			Parameters: map[string]any{"n": i},
			Status:     models.StepStatusIncomplete,
		}
		require.NoError(t, fp.StepRepository().Save(t.Context(), step))
		flow.Steps = append(flow.Steps, step)
	}

	return flow
}

func TestFlowRepository_SaveAndGet(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	seedFlow(t, fp, "flow-1", 3)

	flow, err := fp.FlowRepository().GetByID(t.Context(), "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "Flow flow-1", flow.Name)
	require.Len(t, flow.Steps, 3)

	for i, step := range flow.Steps {
		assert.Equal(t, i+1, step.Position)
	}

	assert.Equal(t, models.StepTypeTrigger, flow.TriggerStep().Type)

	_, err = os.Stat(filepath.Join(fp.root, stateFile))
	assert.NoError(t, err)
}

func TestFlowRepository_StatusIsNotPersisted(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	flow := seedFlow(t, fp, "flow-1", 2)

	flow.Status = models.FlowStatusPublished
	flow.Active = true
	require.NoError(t, fp.FlowRepository().Save(t.Context(), flow))

	reloaded, err := NewPersistence(fp.root).FlowRepository().GetByID(t.Context(), "flow-1")
	require.NoError(t, err)
	assert.True(t, reloaded.Active)
	assert.Empty(t, reloaded.Status)
}

func TestFlowRepository_GetByID_NotFound(t *testing.T) {
	fp := NewPersistence(t.TempDir())

	_, err := fp.FlowRepository().GetByID(t.Context(), "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsFlowNotFound(err))
}

func TestFlowRepository_DeleteIsSoft(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	seedFlow(t, fp, "flow-1", 0)

	require.NoError(t, fp.FlowRepository().Delete(t.Context(), "flow-1"))

	_, err := fp.FlowRepository().GetByID(t.Context(), "flow-1")
	assert.True(t, persistence.IsFlowNotFound(err))
	assert.NotNil(t, fp.state.Flows["flow-1"].DeletedAt)

	err = fp.FlowRepository().Delete(t.Context(), "flow-1")
	assert.True(t, persistence.IsFlowNotFound(err))
}

func TestFlowRepository_ListByOwnerAndActive(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	first := seedFlow(t, fp, "flow-1", 0)
	seedFlow(t, fp, "flow-2", 0)

	other := &models.Flow{ID: "flow-3", Name: "Other", OwnerID: "user-2"}
	require.NoError(t, fp.FlowRepository().Save(t.Context(), other))

	first.Active = true
	require.NoError(t, fp.FlowRepository().Save(t.Context(), first))

	owned, err := fp.FlowRepository().ListByOwner(t.Context(), "user-1")
	require.NoError(t, err)
	assert.Len(t, owned, 2)

	active, err := fp.FlowRepository().ListActive(t.Context())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "flow-1", active[0].ID)
}

func TestStepRepository_ShiftPositions(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	seedFlow(t, fp, "flow-1", 4)

	require.NoError(t, fp.StepRepository().ShiftPositions(t.Context(), "flow-1", 3, 1))

	steps, err := fp.StepRepository().ListByFlow(t.Context(), "flow-1")
	require.NoError(t, err)

	positions := make([]int, 0, len(steps))
	for _, step := range steps {
		positions = append(positions, step.Position)
	}

	assert.Equal(t, []int{1, 2, 4, 5}, positions)
}

func TestStepRepository_SaveRequiresFlow(t *testing.T) {
	fp := NewPersistence(t.TempDir())

	err := fp.StepRepository().Save(t.Context(), &models.Step{ID: "s1", FlowID: "missing", Position: 1})
	assert.True(t, persistence.IsFlowNotFound(err))
}

func TestStepRepository_DeleteNotFound(t *testing.T) {
	fp := NewPersistence(t.TempDir())

	err := fp.StepRepository().Delete(t.Context(), "missing")
	assert.True(t, persistence.IsStepNotFound(err))
}

func TestAtomic_RollsBackOnError(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	seedFlow(t, fp, "flow-1", 2)

	boom := errors.New("boom")

	err := fp.Atomic(t.Context(), func(ctx context.Context, repos persistence.Repositories) error {
		require.NoError(t, repos.StepRepository().ShiftPositions(ctx, "flow-1", 2, 1))
		require.NoError(t, repos.StepRepository().Delete(ctx, "flow-1-step-1"))

		return boom
	})
	require.ErrorIs(t, err, boom)

	steps, err := fp.StepRepository().ListByFlow(t.Context(), "flow-1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0].Position)
	assert.Equal(t, 2, steps[1].Position)
}

func TestAtomic_CommitsOnSuccess(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	seedFlow(t, fp, "flow-1", 2)

	err := fp.Atomic(t.Context(), func(ctx context.Context, repos persistence.Repositories) error {
		if err := repos.StepRepository().ShiftPositions(ctx, "flow-1", 2, 1); err != nil {
			return err
		}

		return repos.StepRepository().Save(ctx, &models.Step{
			ID: "inserted", FlowID: "flow-1", Type: models.StepTypeAction, Position: 2,
		})
	})
	require.NoError(t, err)

	reloaded, err := NewPersistence(fp.root).StepRepository().ListByFlow(t.Context(), "flow-1")
	require.NoError(t, err)
	require.Len(t, reloaded, 3)
	assert.Equal(t, "inserted", reloaded[1].ID)
	assert.True(t, models.PositionsContiguous(reloaded))
}

func TestAtomic_RejectsDuplicatePositions(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	seedFlow(t, fp, "flow-1", 2)

	err := fp.Atomic(t.Context(), func(ctx context.Context, repos persistence.Repositories) error {
		return repos.StepRepository().Save(ctx, &models.Step{ID: "dup", FlowID: "flow-1", Position: 2})
	})
	require.ErrorIs(t, err, persistence.ErrPositionConflict)

	_, err = fp.StepRepository().GetByID(t.Context(), "dup")
	assert.True(t, persistence.IsStepNotFound(err))
}

func TestExecutionRepository_LastInternalIDs(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	seedFlow(t, fp, "flow-1", 2)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, internalID := range []string{"a", "b", "c"} {
		execution := &models.Execution{
			ID:         "exec-" + internalID,
			FlowID:     "flow-1",
			InternalID: internalID,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, fp.ExecutionRepository().Save(t.Context(), execution))
	}

	ids, err := fp.ExecutionRepository().LastInternalIDs(t.Context(), "flow-1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids)

	executions, err := fp.ExecutionRepository().ListByFlow(t.Context(), "flow-1", 0)
	require.NoError(t, err)
	assert.Len(t, executions, 3)
}

func TestExecutionRepository_StepsAndCascade(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	seedFlow(t, fp, "flow-1", 2)

	repo := fp.ExecutionRepository()
	require.NoError(t, repo.Save(t.Context(), &models.Execution{ID: "exec-1", FlowID: "flow-1", InternalID: "x"}))

	started := time.Now().UTC()
	require.NoError(t, repo.SaveStep(t.Context(), &models.ExecutionStep{
		ID: "es-1", ExecutionID: "exec-1", StepID: "flow-1-step-1",
		Status: models.ExecutionStepStatusSuccess, DataOut: map[string]any{"body": "hi"}, StartedAt: started,
	}))
	require.NoError(t, repo.SaveStep(t.Context(), &models.ExecutionStep{
		ID: "es-2", ExecutionID: "exec-1", StepID: "flow-1-step-2",
		Status: models.ExecutionStepStatusFailure, StartedAt: started.Add(time.Second),
	}))

	execution, err := repo.GetByID(t.Context(), "exec-1")
	require.NoError(t, err)
	require.Len(t, execution.ExecutionSteps, 2)
	assert.Equal(t, "es-1", execution.ExecutionSteps[0].ID)
	assert.Equal(t, "hi", execution.ExecutionSteps[0].DataOut["body"])
	assert.True(t, execution.Failed())

	require.NoError(t, repo.DeleteStepsByStep(t.Context(), "flow-1-step-2"))
	execution, err = repo.GetByID(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Len(t, execution.ExecutionSteps, 1)

	require.NoError(t, repo.DeleteByFlow(t.Context(), "flow-1"))
	_, err = repo.GetByID(t.Context(), "exec-1")
	assert.True(t, persistence.IsExecutionNotFound(err))
	assert.Empty(t, fp.state.ExecutionSteps)
}

func TestExecutionRepository_SaveStepRequiresExecution(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	seedFlow(t, fp, "flow-1", 1)

	err := fp.ExecutionRepository().SaveStep(t.Context(), &models.ExecutionStep{
		ID: "es-1", ExecutionID: "missing", StepID: "flow-1-step-1",
	})
	assert.True(t, persistence.IsExecutionNotFound(err))
}
