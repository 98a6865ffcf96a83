package cmd_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/config"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cli "github.com/urfave/cli/v3"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	p, err := cmd.NewPersistence(ctx, discardLogger(), "file://"+dir)
	require.NoError(t, err)
	assert.IsType(t, &file.Persistence{}, p)
	require.NoError(t, p.HealthCheck(ctx))

	p, err = cmd.NewPersistence(ctx, discardLogger(), dir)
	require.NoError(t, err)
	assert.IsType(t, &file.Persistence{}, p)

	_, err = cmd.NewPersistence(ctx, discardLogger(), "mongodb://localhost")
	require.Error(t, err)
}

func TestNewEventBus(t *testing.T) {
	bus, err := cmd.NewEventBus(config.EventBusGoChannel, "", "stepflow-test", discardLogger())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = cmd.NewEventBus(config.EventBusKafka, " , ", "stepflow-test", discardLogger())
	require.Error(t, err)

	_, err = cmd.NewEventBus("rabbitmq", "", "stepflow-test", discardLogger())
	require.Error(t, err)
}

func TestNewSchedulerStore(t *testing.T) {
	ctx := context.Background()

	store, closeStore, err := cmd.NewSchedulerStore("", discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &scheduler.MemoryStore{}, store)
	require.NoError(t, closeStore())

	server := miniredis.RunT(t)

	store, closeStore, err = cmd.NewSchedulerStore("redis://"+server.Addr()+"/0", discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &scheduler.RedisStore{}, store)

	require.NoError(t, store.AddRecurring(ctx, "flow-1", map[string]any{"flowId": "flow-1"}, "*/15 * * * *"))

	jobs, err := store.ListRecurring(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "flow-1", jobs[0].ID)

	require.NoError(t, closeStore())

	_, _, err = cmd.NewSchedulerStore("://nope", discardLogger())
	require.Error(t, err)
}

func TestNewRegistry(t *testing.T) {
	reg, err := cmd.NewRegistry(discardLogger(), filepath.Join(t.TempDir(), "plugins"))
	require.NoError(t, err)

	keys := make([]string, 0)
	for _, app := range reg.Apps() {
		keys = append(keys, app.Key())
	}

	assert.ElementsMatch(t, []string{"webhook", "scheduler", "http", "formatter"}, keys)
}

func runLoadConfig(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()

	var (
		loaded  *config.Config
		loadErr error
	)

	command := &cli.Command{
		Name: "stepflow-test",
		Flags: append(cmd.Flags(), &cli.IntFlag{
			Name: "port",
		}),
		Action: func(_ context.Context, command *cli.Command) error {
			loaded, loadErr = cmd.LoadConfig(command)

			return nil
		},
	}

	require.NoError(t, command.Run(context.Background(), append([]string{"stepflow-test"}, args...)))

	return loaded, loadErr
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stepflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: file:///var/lib/stepflow
webhook_base_url: https://hooks.example.com
poll_interval: 30s
port: 8080
`), 0o600))

	cfg, err := runLoadConfig(t, "--config", path, "--port", "9000", "--log-level", "debug")
	require.NoError(t, err)

	assert.Equal(t, "file:///var/lib/stepflow", cfg.DatabaseURL)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, config.EventBusGoChannel, cfg.EventBusType)

	_, err = runLoadConfig(t, "--webhook-base-url", "https://hooks.example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DatabaseURL")
}
