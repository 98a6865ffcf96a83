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
	stepColumns = `
		SELECT
			id
		  , flow_id
		  , type
		  , app_key
		  , key
		  , connection_id
		  , position
		  , parameters
		  , status
		  , webhook_path
		  , created_at
		  , updated_at
		FROM steps`

	selectStepByID     = stepColumns + ` WHERE id = $1`
	selectStepsByFlow  = stepColumns + ` WHERE flow_id = $1 ORDER BY position`
	shiftStepPositions = `UPDATE steps SET position = position + $3, updated_at = $4 WHERE flow_id = $1 AND position >= $2`
	deleteStep         = `DELETE FROM steps WHERE id = $1`
	deleteStepsByFlow  = `DELETE FROM steps WHERE flow_id = $1`

	upsertStep = `
		INSERT INTO steps (
			id, flow_id, type, app_key, key, connection_id, position, parameters, status, webhook_path, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type
		  , app_key = EXCLUDED.app_key
		  , key = EXCLUDED.key
		  , connection_id = EXCLUDED.connection_id
		  , position = EXCLUDED.position
		  , parameters = EXCLUDED.parameters
		  , status = EXCLUDED.status
		  , webhook_path = EXCLUDED.webhook_path
		  , updated_at = EXCLUDED.updated_at`
)

// StepRepository handles step-related database operations.
type StepRepository struct {
	db     querier
	logger *slog.Logger
}

func (r *StepRepository) GetByID(ctx context.Context, id string) (*models.Step, error) {
	step, err := scanStep(r.db.QueryRowContext(ctx, selectStepByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStepError("GetByID", id, persistence.ErrStepNotFound)
		}

		return nil, persistence.NewStepError("GetByID", id, err)
	}

	return step, nil
}

func (r *StepRepository) ListByFlow(ctx context.Context, flowID string) ([]*models.Step, error) {
	rows, err := r.db.QueryContext(ctx, selectStepsByFlow, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps of flow %s: %w", flowID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	steps := make([]*models.Step, 0)

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		steps = append(steps, step)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

func (r *StepRepository) Save(ctx context.Context, step *models.Step) error {
	now := time.Now().UTC()

	if step.CreatedAt.IsZero() {
		step.CreatedAt = now
	}

	if step.UpdatedAt.IsZero() {
		step.UpdatedAt = now
	}

	parameters := step.Parameters
	if parameters == nil {
		parameters = map[string]any{}
	}

	parametersJSON, err := json.Marshal(parameters)
	if err != nil {
		return persistence.NewStepError("Save", step.ID, fmt.Errorf("failed to marshal parameters: %w", err))
	}

	_, err = r.db.ExecContext(ctx, upsertStep,
		step.ID,
		step.FlowID,
		step.Type,
		nullString(step.AppKey),
		nullString(step.Key),
		step.ConnectionID,
		step.Position,
		parametersJSON,
		step.Status,
		step.WebhookPath,
		step.CreatedAt,
		step.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStepError("Save", step.ID, translateError(err))
	}

	return nil
}

func (r *StepRepository) ShiftPositions(ctx context.Context, flowID string, fromPosition, delta int) error {
	_, err := r.db.ExecContext(ctx, shiftStepPositions, flowID, fromPosition, delta, time.Now().UTC())
	if err != nil {
		return persistence.NewFlowError("ShiftPositions", flowID, translateError(err))
	}

	return nil
}

func (r *StepRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, deleteStep, id)
	if err != nil {
		return persistence.NewStepError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStepError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewStepError("Delete", id, persistence.ErrStepNotFound)
	}

	return nil
}

func (r *StepRepository) DeleteByFlow(ctx context.Context, flowID string) error {
	_, err := r.db.ExecContext(ctx, deleteStepsByFlow, flowID)
	if err != nil {
		return persistence.NewFlowError("DeleteSteps", flowID, err)
	}

	return nil
}

func scanStep(row scanner) (*models.Step, error) {
	var (
		step           models.Step
		appKey         sql.NullString
		key            sql.NullString
		connectionID   sql.NullString
		webhookPath    sql.NullString
		parametersJSON []byte
	)

	err := row.Scan(
		&step.ID,
		&step.FlowID,
		&step.Type,
		&appKey,
		&key,
		&connectionID,
		&step.Position,
		&parametersJSON,
		&step.Status,
		&webhookPath,
		&step.CreatedAt,
		&step.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	step.AppKey = appKey.String
	step.Key = key.String

	if connectionID.Valid {
		step.ConnectionID = &connectionID.String
	}

	if webhookPath.Valid {
		step.WebhookPath = &webhookPath.String
	}

	step.Parameters = map[string]any{}

	if len(parametersJSON) > 0 {
		err = json.Unmarshal(parametersJSON, &step.Parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameters of step %s: %w", step.ID, err)
		}
	}

	return &step, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
