package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 1, 1, 10, 7, 0, 0, time.UTC)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, "test")
	store.now = func() time.Time { return fixedNow }

	return store
}

func newTestMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()

	store := NewMemoryStore()
	store.now = func() time.Time { return fixedNow }

	return store
}

func stores(t *testing.T) map[string]Store {
	t.Helper()

	return map[string]Store{
		"memory": newTestMemoryStore(t),
		"redis":  newTestRedisStore(t),
	}
}

func TestStore_AddRecurring(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			err := store.AddRecurring(ctx, "flow-1", map[string]any{"flowId": "flow-1"}, EveryFifteenMinutes)
			require.NoError(t, err)

			jobs, err := store.ListRecurring(ctx)
			require.NoError(t, err)
			require.Len(t, jobs, 1)

			assert.Equal(t, "flow-1", jobs[0].ID)
			assert.Equal(t, EveryFifteenMinutes, jobs[0].Pattern)
			assert.Equal(t, "flow-1", jobs[0].Payload["flowId"])
			assert.Equal(t, time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC), jobs[0].NextDueAt.UTC())
		})
	}
}

func TestStore_AddRecurringReplacesSameID(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.AddRecurring(ctx, "flow-1", nil, EveryFifteenMinutes))
			require.NoError(t, store.AddRecurring(ctx, "flow-1", nil, "0 * * * *"))
			require.NoError(t, store.AddRecurring(ctx, "flow-2", nil, EveryFifteenMinutes))

			jobs, err := store.ListRecurring(ctx)
			require.NoError(t, err)
			require.Len(t, jobs, 2)

			byID := map[string]RecurringJob{}
			for _, job := range jobs {
				byID[job.ID] = job
			}

			assert.Equal(t, "0 * * * *", byID["flow-1"].Pattern)
			assert.Equal(t, EveryFifteenMinutes, byID["flow-2"].Pattern)
		})
	}
}

func TestStore_AddRecurringInvalidPattern(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.AddRecurring(context.Background(), "flow-1", nil, "not a cron")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPattern)

			var schedErr *SchedulerError
			require.True(t, errors.As(err, &schedErr))
			assert.Equal(t, "AddRecurring", schedErr.Op)
		})
	}
}

func TestStore_RemoveRecurring(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.AddRecurring(ctx, "flow-1", nil, EveryFifteenMinutes))

			jobs, err := store.ListRecurring(ctx)
			require.NoError(t, err)
			require.Len(t, jobs, 1)

			require.NoError(t, store.RemoveRecurring(ctx, jobs[0].Key))

			jobs, err = store.ListRecurring(ctx)
			require.NoError(t, err)
			assert.Empty(t, jobs)

			err = store.RemoveRecurring(ctx, "missing")
			assert.ErrorIs(t, err, ErrJobNotFound)

			// re-adding after removal works
			require.NoError(t, store.AddRecurring(ctx, "flow-1", nil, EveryFifteenMinutes))
		})
	}
}

func TestStore_DueAndAdvance(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.AddRecurring(ctx, "flow-1", nil, EveryFifteenMinutes))
			require.NoError(t, store.AddRecurring(ctx, "flow-2", nil, "0 12 * * *"))

			due, err := store.Due(ctx, fixedNow)
			require.NoError(t, err)
			assert.Empty(t, due)

			at := time.Date(2026, 1, 1, 10, 15, 30, 0, time.UTC)

			due, err = store.Due(ctx, at)
			require.NoError(t, err)
			require.Len(t, due, 1)
			assert.Equal(t, "flow-1", due[0].ID)

			next, err := store.Advance(ctx, due[0].Key, at)
			require.NoError(t, err)
			assert.Equal(t, time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC), next.UTC())

			due, err = store.Due(ctx, at)
			require.NoError(t, err)
			assert.Empty(t, due)

			_, err = store.Advance(ctx, "missing", at)
			assert.ErrorIs(t, err, ErrJobNotFound)
		})
	}
}

func TestPoller_ProcessDue(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t)

	require.NoError(t, store.AddRecurring(ctx, "ok", nil, EveryFifteenMinutes))
	require.NoError(t, store.AddRecurring(ctx, "broken", nil, EveryFifteenMinutes))

	var handled []string

	handler := func(_ context.Context, job RecurringJob) error {
		handled = append(handled, job.ID)
		if job.ID == "broken" {
			return errors.New("boom")
		}

		return nil
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	poller := NewPoller(store, handler, 0, logger)
	assert.Equal(t, defaultPollInterval, poller.interval)

	poller.now = func() time.Time { return time.Date(2026, 1, 1, 10, 16, 0, 0, time.UTC) }

	processed := poller.ProcessDue(ctx)
	assert.Equal(t, 1, processed)
	assert.ElementsMatch(t, []string{"ok", "broken"}, handled)

	// both jobs advanced, the failing one included
	due, err := store.Due(ctx, time.Date(2026, 1, 1, 10, 16, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestPoller_StartStop(t *testing.T) {
	store := newTestMemoryStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	poller := NewPoller(store, func(context.Context, RecurringJob) error { return nil }, 10*time.Millisecond, logger)

	poller.Start(context.Background())
	poller.Start(context.Background())
	poller.Stop()
	poller.Stop()

	assert.False(t, poller.started)
}
