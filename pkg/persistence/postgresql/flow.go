package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

const (
	flowColumns = `
		SELECT
			id
		  , name
		  , owner_id
		  , active
		  , published_at
		  , created_at
		  , updated_at
		  , deleted_at
		FROM flows`

	selectFlowByID          = flowColumns + ` WHERE id = $1 AND deleted_at IS NULL`
	selectFlowByIDForUpdate = selectFlowByID + ` FOR UPDATE`
	selectFlowsByOwner      = flowColumns + ` WHERE owner_id = $1 AND deleted_at IS NULL ORDER BY created_at, id`
	selectActiveFlows       = flowColumns + ` WHERE active AND deleted_at IS NULL ORDER BY created_at, id`

	upsertFlow = `
		INSERT INTO flows (id, name, owner_id, active, published_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , owner_id = EXCLUDED.owner_id
		  , active = EXCLUDED.active
		  , published_at = EXCLUDED.published_at
		  , updated_at = EXCLUDED.updated_at`

	softDeleteFlow = `UPDATE flows SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
)

// FlowRepository handles flow-related database operations.
type FlowRepository struct {
	db     querier
	logger *slog.Logger
}

func (r *FlowRepository) GetByID(ctx context.Context, id string) (*models.Flow, error) {
	return r.get(ctx, "GetByID", selectFlowByID, id)
}

// GetForUpdate locks the flow row with SELECT ... FOR UPDATE. Outside Atomic the lock
// is released as soon as the statement completes.
func (r *FlowRepository) GetForUpdate(ctx context.Context, id string) (*models.Flow, error) {
	return r.get(ctx, "GetForUpdate", selectFlowByIDForUpdate, id)
}

func (r *FlowRepository) get(ctx context.Context, op, query, id string) (*models.Flow, error) {
	flow, err := scanFlow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewFlowError(op, id, persistence.ErrFlowNotFound)
		}

		return nil, persistence.NewFlowError(op, id, err)
	}

	steps := &StepRepository{db: r.db, logger: r.logger}

	flow.Steps, err = steps.ListByFlow(ctx, id)
	if err != nil {
		return nil, err
	}

	return flow, nil
}

func (r *FlowRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Flow, error) {
	return r.list(ctx, selectFlowsByOwner, ownerID)
}

func (r *FlowRepository) ListActive(ctx context.Context) ([]*models.Flow, error) {
	return r.list(ctx, selectActiveFlows)
}

// list reads all flow rows before loading steps, a transaction's connection cannot
// serve a second query while rows are open.
func (r *FlowRepository) list(ctx context.Context, query string, args ...any) ([]*models.Flow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	flows := make([]*models.Flow, 0)

	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			closeRows(ctx, r.logger, rows)

			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	err = rows.Err()

	closeRows(ctx, r.logger, rows)

	if err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	steps := &StepRepository{db: r.db, logger: r.logger}

	for _, flow := range flows {
		flow.Steps, err = steps.ListByFlow(ctx, flow.ID)
		if err != nil {
			return nil, err
		}
	}

	return flows, nil
}

// Save inserts or updates the flow row. Steps are saved through the step repository.
func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	now := time.Now().UTC()

	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	if flow.UpdatedAt.IsZero() {
		flow.UpdatedAt = now
	}

	_, err := r.db.ExecContext(ctx, upsertFlow,
		flow.ID,
		flow.Name,
		flow.OwnerID,
		flow.Active,
		flow.PublishedAt,
		flow.CreatedAt,
		flow.UpdatedAt,
	)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	return nil
}

// Delete soft deletes a flow by setting the deleted_at timestamp.
func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, softDeleteFlow, id, time.Now().UTC())
	if err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewFlowError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFlow(row scanner) (*models.Flow, error) {
	var (
		flow        models.Flow
		publishedAt sql.NullTime
		deletedAt   sql.NullTime
	)

	err := row.Scan(
		&flow.ID,
		&flow.Name,
		&flow.OwnerID,
		&flow.Active,
		&publishedAt,
		&flow.CreatedAt,
		&flow.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if publishedAt.Valid {
		flow.PublishedAt = &publishedAt.Time
	}

	if deletedAt.Valid {
		flow.DeletedAt = &deletedAt.Time
	}

	return &flow, nil
}
