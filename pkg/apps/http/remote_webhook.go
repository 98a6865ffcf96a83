package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

const (
	RemoteWebhookKey = "remoteWebhook"

	SubscribeURLParameter   = "subscribeUrl"
	UnsubscribeURLParameter = "unsubscribeUrl"
)

// ErrRemoteRejected is returned when the remote service answers a subscription call with a non 2xx status.
var ErrRemoteRejected = errors.New("remote service rejected webhook subscription")

// RemoteWebhook subscribes the flow's webhook URL on a remote service when the flow is
// published and removes the subscription when it is unpublished or deleted.
type RemoteWebhook struct {
	client *http.Client
}

func (t *RemoteWebhook) Key() string                { return RemoteWebhookKey }
func (t *RemoteWebhook) Name() string               { return "Remote webhook subscription" }
func (t *RemoteWebhook) Kind() protocol.TriggerKind { return protocol.TriggerKindWebhook }

func (t *RemoteWebhook) Fields() []models.Field {
	return []models.Field{
		{Key: SubscribeURLParameter, Label: "Subscribe URL", Type: models.FieldTypeString, Required: true},
		{Key: UnsubscribeURLParameter, Label: "Unsubscribe URL", Type: models.FieldTypeString},
	}
}

// RegisterHook POSTs {"url": <webhook url>} to the subscribe URL.
func (t *RemoteWebhook) RegisterHook(ctx context.Context, gc *protocol.GlobalContext) error {
	if gc.TestRun {
		return nil
	}

	return t.call(ctx, http.MethodPost, gc.Parameter(SubscribeURLParameter), gc.WebhookURL)
}

// UnregisterHook sends DELETE with the same body to the unsubscribe URL, falling back to the subscribe URL.
func (t *RemoteWebhook) UnregisterHook(ctx context.Context, gc *protocol.GlobalContext) error {
	if gc.TestRun {
		return nil
	}

	target := gc.Parameter(UnsubscribeURLParameter)
	if target == "" {
		target = gc.Parameter(SubscribeURLParameter)
	}

	return t.call(ctx, http.MethodDelete, target, gc.WebhookURL)
}

func (t *RemoteWebhook) call(ctx context.Context, method, target, webhookURL string) error {
	if target == "" {
		return ErrHTTPRequestURLInvalid
	}

	payload, err := json.Marshal(map[string]string{"url": webhookURL})
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s returned %d", ErrRemoteRejected, method, target, resp.StatusCode)
	}

	return nil
}
