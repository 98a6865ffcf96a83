package mocks

import (
	"context"

	"github.com/dukex/stepflow/pkg/scheduler"
	"github.com/stretchr/testify/mock"
)

// MockScheduler is a mock implementation of scheduler.Scheduler interface.
type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) AddRecurring(ctx context.Context, jobKey string, payload map[string]any, pattern string) error {
	args := m.Called(ctx, jobKey, payload, pattern)

	return args.Error(0)
}

func (m *MockScheduler) ListRecurring(ctx context.Context) ([]scheduler.RecurringJob, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]scheduler.RecurringJob), args.Error(1)
}

func (m *MockScheduler) RemoveRecurring(ctx context.Context, key string) error {
	args := m.Called(ctx, key)

	return args.Error(0)
}

// MockRunPolicy is a mock implementation of services.RunPolicy interface.
type MockRunPolicy struct {
	mock.Mock
}

func (m *MockRunPolicy) AllowedToRunFlows(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)

	return args.Bool(0), args.Error(1)
}
