// Package main provides the stepflow worker, which runs queued webhook deliveries and
// polls the triggers of published flows.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/workflow"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "stepflow-worker"

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Run published flows",
		EnableShellCompletion: true,
		Flags: append(cmd.Flags(),
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
		),
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	cfg, err := cmd.LoadConfig(command)
	if err != nil {
		return err
	}

	log.Setup(cfg.LogLevel)

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule(serviceName).With("worker_id", workerID)
	logger.InfoContext(ctx, "Initializing stepflow worker")

	tracer, shutdownTracer, err := cmd.NewTracer(ctx, cfg.OtelEnabled, serviceName, logger)
	if err != nil {
		return err
	}

	defer shutdownTracer()

	registry, err := cmd.NewRegistry(logger, cfg.PluginsPath)
	if err != nil {
		return err
	}

	persistence, err := cmd.NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	store, closeStore, err := cmd.NewSchedulerStore(cfg.RedisURL, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := closeStore(); err != nil {
			logger.ErrorContext(ctx, "Failed to close scheduler store", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(cfg.EventBusType, cfg.KafkaBrokers, serviceName, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	deps := services.Dependencies{
		Persistence:       persistence,
		Adapters:          registry,
		Scheduler:         store,
		Publisher:         eventBus,
		WebhookBaseURL:    cfg.WebhookBaseURL,
		UnregisterTimeout: cfg.UnregisterTimeout,
		Logger:            logger,
	}

	processor := workflow.NewProcessor(deps, workflow.NewExecutor(deps, tracer))
	worker := workflow.NewWorker(processor, eventBus, store, cfg.PollInterval, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := worker.Start(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed to start worker", "error", err)

		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.InfoContext(ctx, "Shutting down worker...")

	worker.Stop()

	return nil
}
