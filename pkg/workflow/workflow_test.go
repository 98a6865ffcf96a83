package workflow_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/apps/formatter"
	"github.com/dukex/stepflow/pkg/apps/webhook"
	"github.com/dukex/stepflow/pkg/mocks"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/workflow"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testApp     = "test"
	pollTrigger = "poll"
	sendAction  = "send"
	failAction  = "fail"
	testOwner   = "user-1"
)

type testEnv struct {
	persistence *file.Persistence
	publisher   *mocks.MockEventBus
	runPolicy   *mocks.MockRunPolicy
	poll        *mocks.MockPollTrigger
	send        *mocks.MockAction
	fail        *mocks.MockAction
	deps        services.Dependencies
	executor    *workflow.Executor
	processor   *workflow.Processor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{
		persistence: file.NewPersistence(t.TempDir()),
		publisher:   &mocks.MockEventBus{},
		runPolicy:   &mocks.MockRunPolicy{},
		poll:        &mocks.MockPollTrigger{TriggerKey: pollTrigger},
		send: &mocks.MockAction{
			ActionKey: sendAction,
			FieldList: []models.Field{{Key: "message", Type: models.FieldTypeString, Required: true}},
		},
		fail: &mocks.MockAction{ActionKey: failAction},
	}

	adapters := registry.NewRegistry(logger)
	adapters.RegisterApp(webhook.New())
	adapters.RegisterApp(formatter.New())
	adapters.RegisterApp(&mocks.App{
		AppKey:      testApp,
		TriggerList: []protocol.Trigger{env.poll},
		ActionList:  []protocol.Action{env.send, env.fail},
	})

	env.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	deps := services.Dependencies{
		Persistence:    env.persistence,
		Adapters:       adapters,
		RunPolicy:      env.runPolicy,
		Publisher:      env.publisher,
		WebhookBaseURL: "https://stepflow.test",
		Logger:         logger,
	}

	env.deps = deps
	env.executor = workflow.NewExecutor(deps, nil)
	env.processor = workflow.NewProcessor(deps, env.executor)

	return env
}

func (env *testEnv) allowOwner(allowed bool) {
	env.runPolicy.On("AllowedToRunFlows", mock.Anything, testOwner).Return(allowed, nil)
}

func newStep(stepType models.StepType, appKey, key string, parameters map[string]any) *models.Step {
	return &models.Step{
		ID:         uuid.NewString(),
		Type:       stepType,
		AppKey:     appKey,
		Key:        key,
		Parameters: parameters,
		Status:     models.StepStatusCompleted,
	}
}

// saveFlow stores a flow with the given steps numbered in order.
func (env *testEnv) saveFlow(t *testing.T, active bool, steps ...*models.Step) *models.Flow {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC()

	flow := &models.Flow{
		ID:        uuid.NewString(),
		Name:      "Flow under test",
		OwnerID:   testOwner,
		Active:    active,
		CreatedAt: now,
		UpdatedAt: now,
	}

	require.NoError(t, env.persistence.FlowRepository().Save(ctx, flow))

	for i, step := range steps {
		step.FlowID = flow.ID
		step.Position = i + 1
		step.CreatedAt = now
		step.UpdatedAt = now

		if step.IsTrigger() && step.AppKey == webhook.AppKey {
			path := models.ComputeWebhookPath(flow.ID, step.Key == webhook.CatchSyncWebhookKey)
			step.WebhookPath = &path
		}

		require.NoError(t, env.persistence.StepRepository().Save(ctx, step))
	}

	stored, err := env.persistence.FlowRepository().GetByID(ctx, flow.ID)
	require.NoError(t, err)

	return stored
}
