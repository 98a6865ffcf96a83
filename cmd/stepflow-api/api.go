// Package main provides the stepflow API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/stepflow/pkg/config"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/scheduler"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/dukex/stepflow/pkg/web"
	"github.com/dukex/stepflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"
)

type API struct {
	logger    *slog.Logger
	config    *config.Config
	handlers  *web.APIHandlers
	processor *workflow.Processor
}

func NewAPI(
	logger *slog.Logger,
	cfg *config.Config,
	persistence persistence.Persistence,
	registry *registry.Registry,
	scheduler scheduler.Scheduler,
	publisher eventbus.EventPublisher,
	tracer trace.Tracer,
) *API {
	deps := services.Dependencies{
		Persistence:       persistence,
		Adapters:          registry,
		Scheduler:         scheduler,
		Publisher:         publisher,
		WebhookBaseURL:    cfg.WebhookBaseURL,
		UnregisterTimeout: cfg.UnregisterTimeout,
		Logger:            logger,
	}

	processor := workflow.NewProcessor(deps, workflow.NewExecutor(deps, tracer))

	return &API{
		logger:    logger,
		config:    cfg,
		processor: processor,
		handlers: web.NewAPIHandlers(
			services.NewFlow(deps),
			services.NewStep(deps),
			services.NewPublishing(deps),
			processor,
			validator.New(validator.WithRequiredStructEnabled()),
			registry,
		),
	}
}

// Worker runs queued webhooks and due recurring jobs inside the API process. It serves
// single-process setups whose event bus and job store live in memory.
func (a *API) Worker(subscriber eventbus.EventSubscriber, store scheduler.Store) *workflow.Worker {
	return workflow.NewWorker(a.processor, subscriber, store, a.config.PollInterval, a.logger)
}

func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("stepflow API")
	})

	a.handlers.Register(app)

	return app
}

func (a *API) Start() error {
	return a.App().Listen(":" + strconv.Itoa(a.config.Port))
}
