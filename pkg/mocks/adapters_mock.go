package mocks

import (
	"context"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// App is a static protocol.App grouping mock adapters.
type App struct {
	AppKey      string
	TriggerList []protocol.Trigger
	ActionList  []protocol.Action
}

func (a *App) Key() string                  { return a.AppKey }
func (a *App) Name() string                 { return a.AppKey }
func (a *App) Triggers() []protocol.Trigger { return a.TriggerList }
func (a *App) Actions() []protocol.Action   { return a.ActionList }

// MockWebhookTrigger is a webhook trigger that subscribes on the remote side.
type MockWebhookTrigger struct {
	mock.Mock

	TriggerKey string
	FieldList  []models.Field
	Sync       bool
}

func (m *MockWebhookTrigger) Key() string                { return m.TriggerKey }
func (m *MockWebhookTrigger) Name() string               { return m.TriggerKey }
func (m *MockWebhookTrigger) Kind() protocol.TriggerKind { return protocol.TriggerKindWebhook }
func (m *MockWebhookTrigger) Fields() []models.Field     { return m.FieldList }
func (m *MockWebhookTrigger) Synchronous() bool          { return m.Sync }

func (m *MockWebhookTrigger) RegisterHook(ctx context.Context, gc *protocol.GlobalContext) error {
	args := m.Called(ctx, gc)

	return args.Error(0)
}

func (m *MockWebhookTrigger) UnregisterHook(ctx context.Context, gc *protocol.GlobalContext) error {
	args := m.Called(ctx, gc)

	return args.Error(0)
}

// MockPollTrigger is a poll trigger. An empty Pattern declares no interval.
type MockPollTrigger struct {
	mock.Mock

	TriggerKey string
	FieldList  []models.Field
	Pattern    string
}

func (m *MockPollTrigger) Key() string                { return m.TriggerKey }
func (m *MockPollTrigger) Name() string               { return m.TriggerKey }
func (m *MockPollTrigger) Kind() protocol.TriggerKind { return protocol.TriggerKindPoll }
func (m *MockPollTrigger) Fields() []models.Field     { return m.FieldList }

func (m *MockPollTrigger) Interval(map[string]any) string {
	return m.Pattern
}

func (m *MockPollTrigger) Poll(ctx context.Context, gc *protocol.GlobalContext) ([]protocol.TriggerItem, error) {
	args := m.Called(ctx, gc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]protocol.TriggerItem), args.Error(1)
}

// MockAction is an action adapter.
type MockAction struct {
	mock.Mock

	ActionKey string
	FieldList []models.Field
}

func (m *MockAction) Key() string            { return m.ActionKey }
func (m *MockAction) Name() string           { return m.ActionKey }
func (m *MockAction) Fields() []models.Field { return m.FieldList }

func (m *MockAction) Run(ctx context.Context, gc *protocol.GlobalContext) (map[string]any, error) {
	args := m.Called(ctx, gc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]any), args.Error(1)
}
