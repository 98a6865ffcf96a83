package services

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/stepflow/pkg/apps/webhook"
	"github.com/dukex/stepflow/pkg/mocks"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testApp        = "test"
	hookTrigger    = "hook"
	syncTrigger    = "syncHook"
	pollTrigger    = "poll"
	cronTrigger    = "cronPoll"
	sendAction     = "send"
	testOwner      = "user-1"
	testWebhookURL = "https://stepflow.test"
)

type testEnv struct {
	persistence *file.Persistence
	flows       *Flow
	steps       *Step
	publishing  *Publishing
	scheduler   *mocks.MockScheduler
	runPolicy   *mocks.MockRunPolicy
	publisher   *mocks.MockEventBus
	hook        *mocks.MockWebhookTrigger
	poll        *mocks.MockPollTrigger
	cronPoll    *mocks.MockPollTrigger
	action      *mocks.MockAction
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{
		persistence: file.NewPersistence(t.TempDir()),
		scheduler:   &mocks.MockScheduler{},
		runPolicy:   &mocks.MockRunPolicy{},
		publisher:   &mocks.MockEventBus{},
		hook:        &mocks.MockWebhookTrigger{TriggerKey: hookTrigger},
		poll:        &mocks.MockPollTrigger{TriggerKey: pollTrigger},
		cronPoll:    &mocks.MockPollTrigger{TriggerKey: cronTrigger, Pattern: "0 9 * * *"},
		action: &mocks.MockAction{
			ActionKey: sendAction,
			FieldList: []models.Field{{Key: "message", Type: models.FieldTypeString, Required: true}},
		},
	}

	adapters := registry.NewRegistry(logger)
	adapters.RegisterApp(webhook.New())
	adapters.RegisterApp(&mocks.App{
		AppKey: testApp,
		TriggerList: []protocol.Trigger{
			env.hook,
			&mocks.MockWebhookTrigger{TriggerKey: syncTrigger, Sync: true},
			env.poll,
			env.cronPoll,
		},
		ActionList: []protocol.Action{env.action},
	})

	env.runPolicy.On("AllowedToRunFlows", mock.Anything, mock.Anything).Return(true, nil).Maybe()
	env.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	deps := Dependencies{
		Persistence:    env.persistence,
		Adapters:       adapters,
		Scheduler:      env.scheduler,
		RunPolicy:      env.runPolicy,
		Publisher:      env.publisher,
		WebhookBaseURL: testWebhookURL + "/",
		Logger:         logger,
	}

	env.flows = NewFlow(deps)
	env.steps = NewStep(deps)
	env.publishing = NewPublishing(deps)

	return env
}

// configuredFlow creates a flow whose trigger and action are both completed.
func (env *testEnv) configuredFlow(t *testing.T, triggerApp, triggerKey string) *models.Flow {
	t.Helper()

	ctx := context.Background()

	flow, err := env.flows.Create(ctx, testOwner, "Configured flow")
	require.NoError(t, err)

	_, err = env.steps.UpdateStep(ctx, flow.Steps[0].ID, UpdateStepInput{AppKey: triggerApp, Key: triggerKey})
	require.NoError(t, err)

	_, err = env.steps.UpdateStep(ctx, flow.Steps[1].ID, UpdateStepInput{
		AppKey:     testApp,
		Key:        sendAction,
		Parameters: map[string]any{"message": "hello"},
	})
	require.NoError(t, err)

	flow, err = env.flows.FetchByID(ctx, flow.ID)
	require.NoError(t, err)

	return flow
}
