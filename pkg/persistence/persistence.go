// Package persistence provides the data storage abstraction for flows, steps and executions.
package persistence

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
)

// Persistence is the storage boundary of the engine.
//
// Structural mutations run through Atomic: every write made by fn is committed together
// or not at all, and transactions touching the same flow are serialized.
type Persistence interface {
	Repositories

	// Atomic runs fn with repositories bound to a single transaction.
	// The transaction is rolled back when fn returns an error.
	Atomic(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Repositories groups the per-entity repositories.
type Repositories interface {
	FlowRepository() FlowRepository
	StepRepository() StepRepository
	ExecutionRepository() ExecutionRepository
}

// FlowRepository stores flow rows. Flows are returned with their steps ordered by position.
// The derived status is never persisted.
type FlowRepository interface {
	GetByID(ctx context.Context, id string) (*models.Flow, error)
	// GetForUpdate loads the flow and locks its row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id string) (*models.Flow, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Flow, error)
	ListActive(ctx context.Context) ([]*models.Flow, error)
	Save(ctx context.Context, flow *models.Flow) error
	Delete(ctx context.Context, id string) error
}

// StepRepository stores step rows.
type StepRepository interface {
	GetByID(ctx context.Context, id string) (*models.Step, error)
	ListByFlow(ctx context.Context, flowID string) ([]*models.Step, error)
	Save(ctx context.Context, step *models.Step) error
	// ShiftPositions adds delta to the position of every step of the flow at or after fromPosition.
	ShiftPositions(ctx context.Context, flowID string, fromPosition, delta int) error
	Delete(ctx context.Context, id string) error
	DeleteByFlow(ctx context.Context, flowID string) error
}

// ExecutionRepository stores executions and their execution steps.
type ExecutionRepository interface {
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	ListByFlow(ctx context.Context, flowID string, limit int) ([]*models.Execution, error)
	// LastInternalIDs returns the internal ids of the flow's most recent executions, newest first.
	LastInternalIDs(ctx context.Context, flowID string, limit int) ([]string, error)
	Save(ctx context.Context, execution *models.Execution) error
	SaveStep(ctx context.Context, executionStep *models.ExecutionStep) error
	DeleteStepsByStep(ctx context.Context, stepID string) error
	// DeleteByFlow removes the flow's execution steps first, then its executions.
	DeleteByFlow(ctx context.Context, flowID string) error
}
