package protocol

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
)

// TriggerKind tells the activation state machine which side effects a trigger needs.
type TriggerKind string

const (
	// TriggerKindWebhook triggers are pushed by the remote application.
	TriggerKindWebhook TriggerKind = "webhook"
	// TriggerKindPoll triggers are pulled by a recurring job.
	TriggerKindPoll TriggerKind = "poll"
	TriggerKindNone TriggerKind = "none"
)

// Trigger is the entry step adapter of a flow.
type Trigger interface {
	Key() string
	Name() string
	Kind() TriggerKind
	Fields() []models.Field
}

// HookRegisterer is implemented by webhook triggers that must subscribe on the remote side.
type HookRegisterer interface {
	RegisterHook(ctx context.Context, gc *GlobalContext) error
}

// HookUnregisterer is implemented by webhook triggers that must unsubscribe on the remote side.
type HookUnregisterer interface {
	UnregisterHook(ctx context.Context, gc *GlobalContext) error
}

// IntervalProvider is implemented by poll triggers with their own cadence.
// The returned value is a standard five-field cron pattern.
type IntervalProvider interface {
	Interval(parameters map[string]any) string
}

// Poller is implemented by poll triggers. Items are returned newest first.
type Poller interface {
	Poll(ctx context.Context, gc *GlobalContext) ([]TriggerItem, error)
}

// SynchronousWebhook is implemented by webhook triggers whose caller waits for the flow result.
type SynchronousWebhook interface {
	Synchronous() bool
}

// PayloadValidator is implemented by webhook triggers that check the body of inbound
// requests before an execution starts.
type PayloadValidator interface {
	ValidatePayload(gc *GlobalContext, body any) error
}

// WebhookRequest is an inbound call to a flow's webhook URL. Headers and query values
// are a string, or a list of strings when the name repeats.
type WebhookRequest struct {
	Headers map[string]any
	Query   map[string]any
	Body    any
}

// Data is the output of the webhook trigger step for the request.
func (r WebhookRequest) Data() map[string]any {
	headers := r.Headers
	if headers == nil {
		headers = map[string]any{}
	}

	query := r.Query
	if query == nil {
		query = map[string]any{}
	}

	return map[string]any{
		"headers": headers,
		"query":   query,
		"body":    r.Body,
	}
}

// TriggerItem is one unit of work produced by a trigger.
// InternalID identifies the item on the remote side and is used to skip duplicates.
type TriggerItem struct {
	InternalID string         `json:"internal_id"`
	Data       map[string]any `json:"data"`
}

// IsSynchronous reports whether the trigger declares synchronous webhook handling.
func IsSynchronous(trigger Trigger) bool {
	sync, ok := trigger.(SynchronousWebhook)

	return ok && sync.Synchronous()
}
