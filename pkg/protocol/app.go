// Package protocol defines the contract between the flow engine and application adapters.
//
// An App groups the triggers and actions of one integration. The engine looks them up by
// (app key, step key) and only depends on the interfaces declared here.
package protocol

import (
	"log/slog"

	"github.com/dukex/stepflow/pkg/models"
)

// App is one integration exposing triggers and actions.
type App interface {
	Key() string
	Name() string
	Triggers() []Trigger
	Actions() []Action
}

// Connection is the resolved credential set a step runs with. Connections are owned
// outside the engine.
type Connection struct {
	ID     string         `json:"id"`
	AppKey string         `json:"app_key"`
	Data   map[string]any `json:"data"`
}

// GlobalContext bundles everything an adapter receives for one call.
type GlobalContext struct {
	Flow       *models.Flow
	Step       *models.Step
	Connection *Connection
	// Parameters are the step's parameters, already resolved for actions.
	Parameters map[string]any
	// WebhookURL is the public URL of the flow's webhook, set for webhook triggers.
	WebhookURL string
	// TestRun suppresses persistence of remote side effects.
	TestRun bool
	Logger  *slog.Logger
}

// Parameter returns the parameter value for key as a string, or "" when absent or not a string.
func (gc *GlobalContext) Parameter(key string) string {
	value, ok := gc.Parameters[key].(string)
	if !ok {
		return ""
	}

	return value
}
