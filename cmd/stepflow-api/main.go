package main

import (
	"context"
	"os"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/config"
	"github.com/dukex/stepflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "stepflow-api"

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Create, edit and publish flows, and receive their webhooks",
		EnableShellCompletion: true,
		Flags: append(cmd.Flags(),
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Sources: cli.EnvVars("PORT"),
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

	logger := log.WithModule("api")
	logger.InfoContext(ctx, "Initializing stepflow API")

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

	api := NewAPI(logger, cfg, persistence, registry, store, eventBus, tracer)

	if cfg.EventBusType == config.EventBusGoChannel {
		logger.InfoContext(ctx, "In-memory event bus, running the worker in process")

		worker := api.Worker(eventBus, store)
		if err := worker.Start(ctx); err != nil {
			return err
		}

		defer worker.Stop()
	}

	if err := api.Start(); err != nil {
		logger.ErrorContext(ctx, "Failed to start API server", "error", err)

		return err
	}

	return nil
}
