package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/stepflow/pkg/apps"
	"github.com/dukex/stepflow/pkg/channels/gochannel"
	"github.com/dukex/stepflow/pkg/config"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/scheduler"
	"github.com/dukex/stepflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser = "user-1"

type testAPI struct {
	api   *API
	app   *fiber.App
	bus   *eventbus.WatermillEventBus
	store *scheduler.MemoryStore
}

func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := registry.NewRegistry(logger)
	for _, app := range apps.Builtin(http.DefaultClient) {
		reg.RegisterApp(app)
	}

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, logger)
	t.Cleanup(func() { _ = bus.Close() })

	cfg := &config.Config{
		DatabaseURL:    "file://" + t.TempDir(),
		WebhookBaseURL: "https://stepflow.test",
	}
	cfg.ApplyDefaults()

	store := scheduler.NewMemoryStore()
	api := NewAPI(logger, cfg, file.NewPersistence(t.TempDir()), reg, store, bus, nil)

	return &testAPI{api: api, app: api.App(), bus: bus, store: store}
}

func (ta *testAPI) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(web.UserIDHeader, testUser)

	resp, err := ta.app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func TestAPI_RootEndpoint(t *testing.T) {
	ta := setupTestAPI(t)

	status, body := ta.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "stepflow API", string(body))
}

func TestAPI_Liveness(t *testing.T) {
	ta := setupTestAPI(t)

	status, _ := ta.do(t, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = ta.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_ListsBuiltinApps(t *testing.T) {
	ta := setupTestAPI(t)

	status, body := ta.do(t, http.MethodGet, "/apps", nil)
	require.Equal(t, http.StatusOK, status)

	var listed []web.AppResponse
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Len(t, listed, 4)
}

func TestAPI_PublishedScheduleRegistersRecurringJob(t *testing.T) {
	ta := setupTestAPI(t)

	status, body := ta.do(t, http.MethodPost, "/flows", map[string]any{"name": "Every hour"})
	require.Equal(t, http.StatusCreated, status)

	var flow models.Flow
	require.NoError(t, json.Unmarshal(body, &flow))
	require.Len(t, flow.Steps, 2)

	status, _ = ta.do(t, http.MethodPatch, "/steps/"+flow.Steps[0].ID, map[string]any{
		"app_key":     "scheduler",
		"key":        "everyHour",
		"parameters": map[string]any{},
	})
	require.Equal(t, http.StatusOK, status)

	status, _ = ta.do(t, http.MethodPatch, "/steps/"+flow.Steps[1].ID, map[string]any{
		"app_key":     "formatter",
		"key":        "text",
		"parameters": map[string]any{"input": "tick"},
	})
	require.Equal(t, http.StatusOK, status)

	status, body = ta.do(t, http.MethodPatch, "/flows/"+flow.ID+"/status", map[string]any{"active": true})
	require.Equal(t, http.StatusOK, status, string(body))

	jobs, err := ta.store.ListRecurring(t.Context())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, flow.ID, jobs[0].ID)
}

func TestAPI_EmbeddedWorkerRunsQueuedWebhooks(t *testing.T) {
	ta := setupTestAPI(t)

	worker := ta.api.Worker(ta.bus, ta.store)
	require.NoError(t, worker.Start(t.Context()))
	t.Cleanup(worker.Stop)

	status, body := ta.do(t, http.MethodPost, "/flows", nil)
	require.Equal(t, http.StatusCreated, status)

	var flow models.Flow
	require.NoError(t, json.Unmarshal(body, &flow))

	status, _ = ta.do(t, http.MethodPatch, "/steps/"+flow.Steps[0].ID, map[string]any{
		"app_key": "webhook",
		"key":    "catchRawWebhook",
	})
	require.Equal(t, http.StatusOK, status)

	status, _ = ta.do(t, http.MethodPatch, "/steps/"+flow.Steps[1].ID, map[string]any{
		"app_key":     "formatter",
		"key":        "text",
		"parameters": map[string]any{"input": "{{step." + flow.Steps[0].ID + ".body.text}}"},
	})
	require.Equal(t, http.StatusOK, status)

	status, _ = ta.do(t, http.MethodPatch, "/flows/"+flow.ID+"/status", map[string]any{"active": true})
	require.Equal(t, http.StatusOK, status)

	status, _ = ta.do(t, http.MethodPost, "/webhooks/flows/"+flow.ID, map[string]any{"text": "hi"})
	require.Equal(t, http.StatusNoContent, status)

	assert.Eventually(t, func() bool {
		status, body := ta.do(t, http.MethodGet, "/flows/"+flow.ID+"/executions", nil)
		if status != http.StatusOK {
			return false
		}

		var executions []models.Execution
		if err := json.Unmarshal(body, &executions); err != nil || len(executions) != 1 {
			return false
		}

		steps := executions[0].ExecutionSteps

		return len(steps) == 2 && steps[1].DataOut["output"] == "hi"
	}, 5*time.Second, 20*time.Millisecond)
}
