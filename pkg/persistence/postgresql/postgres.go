// Package postgresql provides PostgreSQL persistence for flows, steps and executions.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/persistence/sqlbase"
	"github.com/lib/pq"
)

const (
	uniqueViolation        = "23505"
	stepPositionConstraint = "steps_flow_position_unique"
)

var _ persistence.Persistence = (*Persistence)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence creates a new PostgreSQL persistence layer and migrates the schema.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return newPersistence(database, logger), nil
}

func newPersistence(database *sql.DB, logger *slog.Logger) *Persistence {
	return &Persistence{db: database, logger: logger}
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) FlowRepository() persistence.FlowRepository {
	return &FlowRepository{db: p.db, logger: p.logger}
}

func (p *Persistence) StepRepository() persistence.StepRepository {
	return &StepRepository{db: p.db, logger: p.logger}
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return &ExecutionRepository{db: p.db, logger: p.logger}
}

// Atomic runs fn inside a database transaction. The unique step position constraint is
// deferred, so renumbering may pass through duplicate positions before the commit.
func (p *Persistence) Atomic(
	ctx context.Context,
	fn func(ctx context.Context, repos persistence.Repositories) error,
) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				p.logger.ErrorContext(ctx, "failed to rollback transaction", "error", rollbackErr)
			}
		}
	}()

	err = fn(ctx, &txRepositories{tx: tx, logger: p.logger})
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translateError(err))
	}

	return nil
}

type txRepositories struct {
	tx     *sql.Tx
	logger *slog.Logger
}

func (r *txRepositories) FlowRepository() persistence.FlowRepository {
	return &FlowRepository{db: r.tx, logger: r.logger}
}

func (r *txRepositories) StepRepository() persistence.StepRepository {
	return &StepRepository{db: r.tx, logger: r.logger}
}

func (r *txRepositories) ExecutionRepository() persistence.ExecutionRepository {
	return &ExecutionRepository{db: r.tx, logger: r.logger}
}

// translateError maps driver errors onto persistence sentinels.
func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == stepPositionConstraint {
		return fmt.Errorf("%w: %s", persistence.ErrPositionConflict, pqErr.Message)
	}

	return err
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
