// Package formatter provides actions that reshape data produced by earlier steps.
package formatter

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

const (
	AppKey = "formatter"

	TextKey = "text"
)

type App struct{}

func New() *App {
	return &App{}
}

func (a *App) Key() string  { return AppKey }
func (a *App) Name() string { return "Formatter" }

func (a *App) Triggers() []protocol.Trigger {
	return nil
}

func (a *App) Actions() []protocol.Action {
	return []protocol.Action{&Text{}}
}

// Text outputs its resolved input. The input is declared with the parse value type, so
// a JSON document assembled from earlier outputs comes out structured.
type Text struct{}

func (a *Text) Key() string  { return TextKey }
func (a *Text) Name() string { return "Format text" }

func (a *Text) Fields() []models.Field {
	return []models.Field{
		{
			Key:       "input",
			Label:     "Input",
			Type:      models.FieldTypeString,
			ValueType: models.ValueTypeParse,
			Required:  true,
		},
	}
}

func (a *Text) Run(_ context.Context, gc *protocol.GlobalContext) (map[string]any, error) {
	return map[string]any{"output": gc.Parameters["input"]}, nil
}
