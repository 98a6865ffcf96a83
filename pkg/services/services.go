package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/dukex/stepflow/pkg/scheduler"
	"github.com/google/uuid"
)

const defaultUnregisterTimeout = 10 * time.Second

// Adapters resolves the trigger and action adapters behind steps.
type Adapters interface {
	Trigger(appKey, key string) (protocol.Trigger, error)
	Action(appKey, key string) (protocol.Action, error)
	Fields(step *models.Step) ([]models.Field, error)
}

// RunPolicy decides whether a user may currently run flows. Active flows of users who may
// not are reported as paused and skipped at run time.
type RunPolicy interface {
	AllowedToRunFlows(ctx context.Context, userID string) (bool, error)
}

// AllowAll is the RunPolicy used when no policy is configured.
type AllowAll struct{}

func (AllowAll) AllowedToRunFlows(context.Context, string) (bool, error) {
	return true, nil
}

// ConnectionResolver loads the connection a step runs with. Connections are owned elsewhere.
type ConnectionResolver interface {
	Connection(ctx context.Context, connectionID string) (*protocol.Connection, error)
}

// Dependencies are the collaborators shared by the services.
type Dependencies struct {
	Persistence persistence.Persistence
	Adapters    Adapters
	Scheduler   scheduler.Scheduler
	RunPolicy   RunPolicy
	// Connections is optional; without it adapters receive no connection.
	Connections ConnectionResolver
	// Publisher is optional; without it no events are published.
	Publisher eventbus.EventPublisher
	// WebhookBaseURL prefixes webhook paths to build the public webhook URL.
	WebhookBaseURL string
	// UnregisterTimeout bounds remote hook removal on flow deletion.
	UnregisterTimeout time.Duration
	Logger            *slog.Logger
}

type core struct {
	persistence       persistence.Persistence
	adapters          Adapters
	scheduler         scheduler.Scheduler
	runPolicy         RunPolicy
	connections       ConnectionResolver
	publisher         eventbus.EventPublisher
	webhookBaseURL    string
	unregisterTimeout time.Duration
	logger            *slog.Logger
	now               func() time.Time
}

func newCore(deps Dependencies, module string) *core {
	c := &core{
		persistence:       deps.Persistence,
		adapters:          deps.Adapters,
		scheduler:         deps.Scheduler,
		runPolicy:         deps.RunPolicy,
		connections:       deps.Connections,
		publisher:         deps.Publisher,
		webhookBaseURL:    strings.TrimSuffix(deps.WebhookBaseURL, "/"),
		unregisterTimeout: deps.UnregisterTimeout,
		logger:            deps.Logger,
		now:               func() time.Time { return time.Now().UTC() },
	}

	if c.runPolicy == nil {
		c.runPolicy = AllowAll{}
	}

	if c.publisher == nil {
		c.publisher = eventbus.NopPublisher{}
	}

	if c.unregisterTimeout <= 0 {
		c.unregisterTimeout = defaultUnregisterTimeout
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}

	c.logger = c.logger.With("module", module)

	return c
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// populateStatus derives the status of each flow from its active flag and its owner's policy.
func (c *core) populateStatus(ctx context.Context, flows ...*models.Flow) error {
	allowed := make(map[string]bool)

	for _, flow := range flows {
		ownerAllowed, ok := allowed[flow.OwnerID]
		if !ok {
			var err error

			ownerAllowed, err = c.runPolicy.AllowedToRunFlows(ctx, flow.OwnerID)
			if err != nil {
				return fmt.Errorf("failed to check run policy for %s: %w", flow.OwnerID, err)
			}

			allowed[flow.OwnerID] = ownerAllowed
		}

		flow.Status = models.ComputeStatus(flow.Active, ownerAllowed)
	}

	return nil
}

func (c *core) trigger(step *models.Step) (protocol.Trigger, error) {
	trigger, err := c.adapters.Trigger(step.AppKey, step.Key)
	if err != nil {
		return nil, &AdapterError{Op: "resolve", AppKey: step.AppKey, Key: step.Key, Err: err}
	}

	return trigger, nil
}

// webhookPath is the inbound path of a trigger step, nil unless it is a webhook trigger.
func (c *core) webhookPath(flowID string, step *models.Step) *string {
	if !step.IsTrigger() || step.AppKey == "" || step.Key == "" {
		return nil
	}

	trigger, err := c.adapters.Trigger(step.AppKey, step.Key)
	if err != nil || trigger.Kind() != protocol.TriggerKindWebhook {
		return nil
	}

	path := models.ComputeWebhookPath(flowID, protocol.IsSynchronous(trigger))

	return &path
}

// stepStatus is completed when the adapter resolves and all required fields are filled.
func (c *core) stepStatus(step *models.Step) models.StepStatus {
	if step.AppKey == "" || step.Key == "" {
		return models.StepStatusIncomplete
	}

	fields, err := c.adapters.Fields(step)
	if err != nil {
		return models.StepStatusIncomplete
	}

	if len(models.MissingRequired(fields, step.Parameters)) > 0 {
		return models.StepStatusIncomplete
	}

	return models.StepStatusCompleted
}

func (c *core) globalContext(ctx context.Context, flow *models.Flow, step *models.Step, testRun bool) (*protocol.GlobalContext, error) {
	return NewGlobalContext(ctx, c.connections, c.webhookBaseURL, flow, step, testRun, c.logger)
}

// checkStructure enforces the guards of an active flow.
func checkStructure(flow *models.Flow) error {
	if flow.HasIncompleteStep() {
		return newIncompleteStepsError()
	}

	if flow.HasFewerThanTwoSteps() {
		return newInsufficientStepsError()
	}

	return nil
}

// publish sends an event. The state change already happened, so failures are only logged.
func (c *core) publish(ctx context.Context, key string, event eventbus.Event) {
	err := c.publisher.Publish(ctx, key, event)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "flow_id", key, "error", err)
	}
}
