// Package webhook provides the app whose triggers catch raw inbound HTTP requests.
package webhook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

const (
	AppKey = "webhook"

	CatchRawWebhookKey  = "catchRawWebhook"
	CatchSyncWebhookKey = "catchRawWebhookSync"

	// JSONSchemaParameter optionally holds a JSON schema inbound payloads must satisfy.
	JSONSchemaParameter = "jsonSchema"
)

// ErrInvalidPayload is returned when an inbound payload does not match the trigger's schema.
var ErrInvalidPayload = errors.New("webhook payload does not match schema")

type App struct{}

func New() *App {
	return &App{}
}

func (a *App) Key() string  { return AppKey }
func (a *App) Name() string { return "Webhook" }

func (a *App) Triggers() []protocol.Trigger {
	return []protocol.Trigger{
		&CatchRawWebhook{},
		&CatchRawWebhook{synchronous: true},
	}
}

func (a *App) Actions() []protocol.Action {
	return nil
}

// CatchRawWebhook is fired by any request to the flow's webhook URL. There is no remote
// side to subscribe to, so it declares no hooks.
type CatchRawWebhook struct {
	synchronous bool
}

func (t *CatchRawWebhook) Key() string {
	if t.synchronous {
		return CatchSyncWebhookKey
	}

	return CatchRawWebhookKey
}

func (t *CatchRawWebhook) Name() string {
	if t.synchronous {
		return "Catch raw webhook and respond"
	}

	return "Catch raw webhook"
}

func (t *CatchRawWebhook) Kind() protocol.TriggerKind {
	return protocol.TriggerKindWebhook
}

func (t *CatchRawWebhook) Synchronous() bool {
	return t.synchronous
}

func (t *CatchRawWebhook) Fields() []models.Field {
	return []models.Field{
		{
			Key:       JSONSchemaParameter,
			Label:     "JSON schema of the request body",
			Type:      models.FieldTypeString,
			ValueType: models.ValueTypeString,
		},
	}
}

// ValidatePayload checks a request body against the step's jsonSchema parameter, when one
// is set. The schema may be given as a JSON document or as an already decoded object.
func (t *CatchRawWebhook) ValidatePayload(gc *protocol.GlobalContext, body any) error {
	var schemaLoader gojsonschema.JSONLoader

	switch schema := gc.Parameters[JSONSchemaParameter].(type) {
	case string:
		if strings.TrimSpace(schema) == "" {
			return nil
		}

		schemaLoader = gojsonschema.NewStringLoader(schema)
	case map[string]any:
		schemaLoader = gojsonschema.NewGoLoader(schema)
	default:
		return nil
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(body))
	if err != nil {
		return fmt.Errorf("%w: invalid schema: %w", ErrInvalidPayload, err)
	}

	if !result.Valid() {
		var messages []string
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(messages, "; "))
	}

	return nil
}
