package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

const (
	executionColumns = `
		SELECT
			id
		  , flow_id
		  , internal_id
		  , test_run
		  , created_at
		  , updated_at
		FROM executions`

	selectExecutionByID     = executionColumns + ` WHERE id = $1`
	selectExecutionsByFlow  = executionColumns + ` WHERE flow_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	selectLastInternalIDs   = `SELECT internal_id FROM executions WHERE flow_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	deleteExecutionsByFlow  = `DELETE FROM executions WHERE flow_id = $1`
	deleteExecStepsByStep   = `DELETE FROM execution_steps WHERE step_id = $1`
	deleteExecStepsByFlow   = `DELETE FROM execution_steps WHERE execution_id IN (SELECT id FROM executions WHERE flow_id = $1)`
	selectExecutionStepsFor = `
		SELECT
			id
		  , execution_id
		  , step_id
		  , status
		  , data_in
		  , data_out
		  , error_details
		  , started_at
		  , completed_at
		  , created_at
		FROM execution_steps
		WHERE execution_id = $1
		ORDER BY started_at`

	upsertExecution = `
		INSERT INTO executions (id, flow_id, internal_id, test_run, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET updated_at = EXCLUDED.updated_at`

	upsertExecutionStep = `
		INSERT INTO execution_steps (
			id, execution_id, step_id, status, data_in, data_out, error_details, started_at, completed_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , data_in = EXCLUDED.data_in
		  , data_out = EXCLUDED.data_out
		  , error_details = EXCLUDED.error_details
		  , completed_at = EXCLUDED.completed_at`
)

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     querier
	logger *slog.Logger
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	execution, err := scanExecution(r.db.QueryRowContext(ctx, selectExecutionByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("execution %s: %w", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}

	execution.ExecutionSteps, err = r.listSteps(ctx, id)
	if err != nil {
		return nil, err
	}

	return execution, nil
}

// ListByFlow returns the flow's executions newest first. A limit of zero or less returns all of them.
func (r *ExecutionRepository) ListByFlow(ctx context.Context, flowID string, limit int) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, selectExecutionsByFlow, flowID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			closeRows(ctx, r.logger, rows)

			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()

	closeRows(ctx, r.logger, rows)

	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	for _, execution := range executions {
		execution.ExecutionSteps, err = r.listSteps(ctx, execution.ID)
		if err != nil {
			return nil, err
		}
	}

	return executions, nil
}

func (r *ExecutionRepository) LastInternalIDs(ctx context.Context, flowID string, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, selectLastInternalIDs, flowID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query internal ids: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	ids := make([]string, 0)

	for rows.Next() {
		var id string

		err := rows.Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to scan internal id: %w", err)
		}

		ids = append(ids, id)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating internal ids: %w", err)
	}

	return ids, nil
}

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	now := time.Now().UTC()

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, upsertExecution,
		execution.ID,
		execution.FlowID,
		execution.InternalID,
		execution.TestRun,
		execution.CreatedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) SaveStep(ctx context.Context, executionStep *models.ExecutionStep) error {
	if executionStep.CreatedAt.IsZero() {
		executionStep.CreatedAt = time.Now().UTC()
	}

	dataIn, err := marshalNullable(executionStep.DataIn)
	if err != nil {
		return fmt.Errorf("failed to marshal data_in: %w", err)
	}

	dataOut, err := marshalNullable(executionStep.DataOut)
	if err != nil {
		return fmt.Errorf("failed to marshal data_out: %w", err)
	}

	errorDetails, err := marshalNullable(executionStep.ErrorDetails)
	if err != nil {
		return fmt.Errorf("failed to marshal error_details: %w", err)
	}

	_, err = r.db.ExecContext(ctx, upsertExecutionStep,
		executionStep.ID,
		executionStep.ExecutionID,
		executionStep.StepID,
		executionStep.Status,
		dataIn,
		dataOut,
		errorDetails,
		executionStep.StartedAt,
		executionStep.CompletedAt,
		executionStep.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution step %s: %w", executionStep.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) DeleteStepsByStep(ctx context.Context, stepID string) error {
	_, err := r.db.ExecContext(ctx, deleteExecStepsByStep, stepID)
	if err != nil {
		return persistence.NewStepError("DeleteExecutionSteps", stepID, err)
	}

	return nil
}

func (r *ExecutionRepository) DeleteByFlow(ctx context.Context, flowID string) error {
	_, err := r.db.ExecContext(ctx, deleteExecStepsByFlow, flowID)
	if err != nil {
		return persistence.NewFlowError("DeleteExecutionSteps", flowID, err)
	}

	_, err = r.db.ExecContext(ctx, deleteExecutionsByFlow, flowID)
	if err != nil {
		return persistence.NewFlowError("DeleteExecutions", flowID, err)
	}

	return nil
}

func (r *ExecutionRepository) listSteps(ctx context.Context, executionID string) ([]*models.ExecutionStep, error) {
	rows, err := r.db.QueryContext(ctx, selectExecutionStepsFor, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution steps: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	steps := make([]*models.ExecutionStep, 0)

	for rows.Next() {
		step, err := scanExecutionStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution step: %w", err)
		}

		steps = append(steps, step)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating execution steps: %w", err)
	}

	return steps, nil
}

func scanExecution(row scanner) (*models.Execution, error) {
	var execution models.Execution

	err := row.Scan(
		&execution.ID,
		&execution.FlowID,
		&execution.InternalID,
		&execution.TestRun,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &execution, nil
}

func scanExecutionStep(row scanner) (*models.ExecutionStep, error) {
	var (
		step                          models.ExecutionStep
		dataIn, dataOut, errorDetails []byte
		completedAt                   sql.NullTime
	)

	err := row.Scan(
		&step.ID,
		&step.ExecutionID,
		&step.StepID,
		&step.Status,
		&dataIn,
		&dataOut,
		&errorDetails,
		&step.StartedAt,
		&completedAt,
		&step.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		step.CompletedAt = &completedAt.Time
	}

	for _, field := range []struct {
		raw  []byte
		dest *map[string]any
	}{
		{dataIn, &step.DataIn},
		{dataOut, &step.DataOut},
		{errorDetails, &step.ErrorDetails},
	} {
		if len(field.raw) == 0 {
			continue
		}

		err = json.Unmarshal(field.raw, field.dest)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution step %s: %w", step.ID, err)
		}
	}

	return &step, nil
}

func marshalNullable(value map[string]any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}

	return json.Marshal(value)
}

// sqlLimit turns a non-positive limit into NULL, which PostgreSQL treats as no limit.
func sqlLimit(limit int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
}
