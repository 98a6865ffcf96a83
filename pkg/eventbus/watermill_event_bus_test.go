package eventbus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/stepflow/pkg/channels/gochannel"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)
	received := make(chan *events.FlowTriggered, 1)

	require.NoError(t, bus.Handle(events.FlowTriggeredEvent, func(_ context.Context, event any) error {
		received <- event.(*events.FlowTriggered)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	published := events.NewFlowTriggered("flow-1", "step-1", "item-1", map[string]any{"a": "b"})
	require.NoError(t, bus.Publish(ctx, "flow-1", published))

	select {
	case event := <-received:
		assert.Equal(t, published.ID, event.ID)
		assert.Equal(t, "flow-1", event.FlowID)
		assert.Equal(t, "b", event.Data["a"])
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWatermillEventBus_UnhandledTypesAreAcked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)
	received := make(chan events.EventType, 2)

	require.NoError(t, bus.Handle(events.FlowDeletedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.FlowDeleted).GetType()

		return errors.New("handler failure is nacked, not fatal")
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "flow-1", events.NewFlowPublished("flow-1", "user-1", "webhook", "catchRawWebhook", "webhook")))
	require.NoError(t, bus.Publish(ctx, "flow-1", events.NewFlowDeleted("flow-1", "user-1")))

	select {
	case eventType := <-received:
		assert.Equal(t, events.FlowDeletedEvent, eventType)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), "k", events.NewFlowDeleted("flow-1", "user-1")))
}
