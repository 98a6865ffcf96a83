package protocol

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
)

// Action is an adapter run for one action step of an execution.
type Action interface {
	Key() string
	Name() string
	Fields() []models.Field
	// Run executes the action with gc.Parameters already resolved and returns the step output.
	Run(ctx context.Context, gc *GlobalContext) (map[string]any, error)
}
