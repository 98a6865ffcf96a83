// Package http provides the app that talks to arbitrary HTTP endpoints: an action performing
// requests and a trigger subscribing the flow's webhook URL on a remote service.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

const (
	AppKey = "http"

	RequestKey = "request"

	defaultTimeoutSeconds = 30
)

var (
	// ErrHTTPRequestURLInvalid is returned when the request URL is missing.
	ErrHTTPRequestURLInvalid = errors.New("invalid HTTP request url")
	// ErrHTTPServerError is returned when the server returns an error status code.
	ErrHTTPServerError = errors.New("server error during HTTP request")
)

type App struct {
	client *http.Client
}

// New creates the http app. A nil client gets a client with a 30 second timeout.
func New(client *http.Client) *App {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeoutSeconds * time.Second}
	}

	return &App{client: client}
}

func (a *App) Key() string  { return AppKey }
func (a *App) Name() string { return "HTTP" }

func (a *App) Triggers() []protocol.Trigger {
	return []protocol.Trigger{&RemoteWebhook{client: a.client}}
}

func (a *App) Actions() []protocol.Action {
	return []protocol.Action{&Request{client: a.client}}
}

// Request performs an HTTP request with optional headers, body and retry on server errors.
type Request struct {
	client *http.Client
}

// RetryConfig defines retry behavior for HTTP requests.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

func (a *Request) Key() string  { return RequestKey }
func (a *Request) Name() string { return "Send HTTP request" }

func (a *Request) Fields() []models.Field {
	return []models.Field{
		{Key: "method", Label: "Method", Type: models.FieldTypeDropdown, Required: true},
		{Key: "url", Label: "URL", Type: models.FieldTypeString, Required: true},
		{Key: "headers", Label: "Headers", Type: models.FieldTypeDynamic, Fields: []models.Field{
			{Key: "key", Label: "Name", Type: models.FieldTypeString},
			{Key: "value", Label: "Value", Type: models.FieldTypeString},
		}},
		{Key: "body", Label: "Body", Type: models.FieldTypeString},
		{Key: "retryAttempts", Label: "Retry attempts", Type: models.FieldTypeString},
	}
}

// Run sends the request described by the resolved parameters and returns status, headers and body.
func (a *Request) Run(ctx context.Context, gc *protocol.GlobalContext) (map[string]any, error) {
	logger := gc.Logger.With("module", "http_request_action")
	logger.InfoContext(ctx, "Executing HTTP request action")

	url := gc.Parameter("url")
	if url == "" {
		return nil, ErrHTTPRequestURLInvalid
	}

	method := strings.ToUpper(gc.Parameter("method"))
	if method == "" {
		method = http.MethodGet
	}

	retry := parseRetryConfig(gc.Parameters)

	var (
		lastErr error
		resp    *http.Response
	)

	for attempt := 1; attempt <= retry.Attempts; attempt++ {
		if attempt > 1 {
			logger.InfoContext(ctx, "Retrying HTTP request", "attempt", attempt, "attempts", retry.Attempts)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retry.Delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, requestBody(gc.Parameters["body"]))
		if err != nil {
			return nil, fmt.Errorf("failed to create http request: %w", err)
		}

		setHeaders(req, gc.Parameters["headers"])

		resp, err = a.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request failed: %w", err)

			continue
		}

		if resp.StatusCode >= 500 && attempt < retry.Attempts {
			err = resp.Body.Close()
			if err != nil {
				logger.ErrorContext(ctx, "failed to close response body", "error", err)
			}

			lastErr = fmt.Errorf("server error (status %d), retrying: %w", resp.StatusCode, ErrHTTPServerError)
			resp = nil

			continue
		}

		break
	}

	if resp == nil {
		return nil, fmt.Errorf("all retry attempts failed, last error: %w", lastErr)
	}

	return processResponse(ctx, resp, logger)
}

func parseRetryConfig(parameters map[string]any) RetryConfig {
	retry := RetryConfig{Attempts: 1, Delay: time.Second}

	switch attempts := parameters["retryAttempts"].(type) {
	case float64:
		retry.Attempts = int(attempts)
	case string:
		var parsed int
		if _, err := fmt.Sscanf(attempts, "%d", &parsed); err == nil {
			retry.Attempts = parsed
		}
	}

	if retry.Attempts < 1 {
		retry.Attempts = 1
	}

	return retry
}

func requestBody(body any) io.Reader {
	switch value := body.(type) {
	case nil:
		return nil
	case string:
		if value == "" {
			return nil
		}

		return strings.NewReader(value)
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil
		}

		return strings.NewReader(string(data))
	}
}

// setHeaders applies the dynamic headers field, a list of {key, value} entries.
func setHeaders(req *http.Request, headers any) {
	entries, ok := headers.([]any)
	if !ok {
		return
	}

	for _, entry := range entries {
		header, ok := entry.(map[string]any)
		if !ok {
			continue
		}

		key, _ := header["key"].(string)
		value, _ := header["value"].(string)

		if key != "" {
			req.Header.Set(key, value)
		}
	}
}

func processResponse(ctx context.Context, resp *http.Response, logger *slog.Logger) (map[string]any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = string(bodyBytes)

		logger.DebugContext(ctx, "Response is not JSON, returning as string", "error", err)
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	logger.InfoContext(ctx, "HTTP request completed", "status", resp.StatusCode, "body_length", len(bodyBytes))

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
		"headers":     headers,
	}, nil
}
