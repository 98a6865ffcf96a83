package services

import (
	"math/rand"
	"testing"

	"github.com/dukex/stepflow/pkg/apps/webhook"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func positions(steps []*models.Step) []int {
	result := make([]int, len(steps))
	for i, step := range steps {
		result[i] = step.Position
	}

	return result
}

func TestStep_CreateActionStepShiftsLaterSteps(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	flow, err := env.flows.Create(ctx, testOwner, "Insert")
	require.NoError(t, err)

	trigger, action := flow.Steps[0], flow.Steps[1]

	inserted, err := env.steps.CreateActionStep(ctx, flow.ID, trigger.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted.Position)
	assert.Equal(t, models.StepTypeAction, inserted.Type)
	assert.Equal(t, models.StepStatusIncomplete, inserted.Status)

	flow, err = env.flows.FetchByID(ctx, flow.ID)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, positions(flow.Steps))
	assert.Equal(t, trigger.ID, flow.Steps[0].ID)
	assert.Equal(t, inserted.ID, flow.Steps[1].ID)
	assert.Equal(t, action.ID, flow.Steps[2].ID)
}

func TestStep_CreateActionStepUnknownPrevious(t *testing.T) {
	env := newTestEnv(t)

	flow, err := env.flows.Create(t.Context(), testOwner, "Insert")
	require.NoError(t, err)

	other, err := env.flows.Create(t.Context(), testOwner, "Other")
	require.NoError(t, err)

	_, err = env.steps.CreateActionStep(t.Context(), flow.ID, other.Steps[0].ID)
	require.Error(t, err)
	assert.True(t, IsNotFoundError(err))

	flow, err = env.flows.FetchByID(t.Context(), flow.ID)
	require.NoError(t, err)
	assert.Len(t, flow.Steps, 2)
}

func TestStep_DeleteStepClosesGap(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	flow, err := env.flows.Create(ctx, testOwner, "Delete")
	require.NoError(t, err)

	middle, err := env.steps.CreateActionStep(ctx, flow.ID, flow.Steps[0].ID)
	require.NoError(t, err)

	updated, err := env.steps.DeleteStep(ctx, middle.ID)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, positions(updated.Steps))
	assert.Equal(t, flow.Steps[1].ID, updated.Steps[1].ID)

	_, err = env.steps.FetchByID(ctx, middle.ID)
	assert.True(t, IsNotFoundError(err))
}

func TestStep_DeleteTriggerIsRejected(t *testing.T) {
	env := newTestEnv(t)

	flow, err := env.flows.Create(t.Context(), testOwner, "Delete")
	require.NoError(t, err)

	_, err = env.steps.DeleteStep(t.Context(), flow.Steps[0].ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCannotDeleteTrigger)
	assert.True(t, IsValidationError(err))
}

func TestStep_PositionsStayContiguous(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	random := rand.New(rand.NewSource(42))

	flow, err := env.flows.Create(ctx, testOwner, "Random")
	require.NoError(t, err)

	for range 40 {
		flow, err = env.flows.FetchByID(ctx, flow.ID)
		require.NoError(t, err)

		pick := flow.Steps[random.Intn(len(flow.Steps))]

		if random.Intn(3) == 0 && pick.IsAction() {
			_, err = env.steps.DeleteStep(ctx, pick.ID)
		} else {
			_, err = env.steps.CreateActionStep(ctx, flow.ID, pick.ID)
		}

		require.NoError(t, err)

		flow, err = env.flows.FetchByID(ctx, flow.ID)
		require.NoError(t, err)
		require.True(t, models.PositionsContiguous(flow.Steps), "positions %v", positions(flow.Steps))
		require.True(t, flow.Steps[0].IsTrigger())
	}
}

func TestStep_UpdateStepComputesStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	flow, err := env.flows.Create(ctx, testOwner, "Update")
	require.NoError(t, err)

	step, err := env.steps.UpdateStep(ctx, flow.Steps[1].ID, UpdateStepInput{AppKey: testApp, Key: sendAction})
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusIncomplete, step.Status)
	assert.NotNil(t, step.Parameters)
	assert.Nil(t, step.WebhookPath)

	connectionID := "conn-1"

	step, err = env.steps.UpdateStep(ctx, flow.Steps[1].ID, UpdateStepInput{
		AppKey:       testApp,
		Key:          sendAction,
		ConnectionID: &connectionID,
		Parameters:   map[string]any{"message": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, step.Status)
	assert.Equal(t, &connectionID, step.ConnectionID)

	stored, err := env.steps.FetchByID(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, stored.Status)
	assert.Equal(t, "hi", stored.Parameters["message"])
}

func TestStep_UpdateStepWebhookPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	flow, err := env.flows.Create(ctx, testOwner, "Webhook")
	require.NoError(t, err)

	step, err := env.steps.UpdateStep(ctx, flow.Steps[0].ID, UpdateStepInput{AppKey: webhook.AppKey, Key: webhook.CatchRawWebhookKey})
	require.NoError(t, err)
	require.NotNil(t, step.WebhookPath)
	assert.Equal(t, "/webhooks/flows/"+flow.ID, *step.WebhookPath)

	step, err = env.steps.UpdateStep(ctx, flow.Steps[0].ID, UpdateStepInput{AppKey: testApp, Key: syncTrigger})
	require.NoError(t, err)
	require.NotNil(t, step.WebhookPath)
	assert.Equal(t, "/webhooks/flows/"+flow.ID+"/sync", *step.WebhookPath)

	step, err = env.steps.UpdateStep(ctx, flow.Steps[0].ID, UpdateStepInput{AppKey: testApp, Key: pollTrigger})
	require.NoError(t, err)
	assert.Nil(t, step.WebhookPath)

	triggerStep, err := env.steps.TriggerStep(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, pollTrigger, triggerStep.Key)
}

func TestStep_UpdateStepRejectsMismatchedAdapter(t *testing.T) {
	env := newTestEnv(t)

	flow, err := env.flows.Create(t.Context(), testOwner, "Mismatch")
	require.NoError(t, err)

	_, err = env.steps.UpdateStep(t.Context(), flow.Steps[0].ID, UpdateStepInput{AppKey: testApp, Key: sendAction})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	_, err = env.steps.UpdateStep(t.Context(), flow.Steps[1].ID, UpdateStepInput{AppKey: "unknown", Key: "thing"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestStep_EditingActiveFlowKeepsItValid(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	flow := env.configuredFlow(t, webhook.AppKey, webhook.CatchRawWebhookKey)

	_, err := env.publishing.SetActive(ctx, flow.ID, true)
	require.NoError(t, err)

	_, err = env.steps.UpdateStep(ctx, flow.Steps[1].ID, UpdateStepInput{AppKey: testApp, Key: sendAction})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncompleteSteps)

	stored, err := env.steps.FetchByID(ctx, flow.Steps[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Parameters["message"])

	_, err = env.steps.DeleteStep(ctx, flow.Steps[1].ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientSteps)

	flow, err = env.flows.FetchByID(ctx, flow.ID)
	require.NoError(t, err)
	assert.Len(t, flow.Steps, 2)
}
