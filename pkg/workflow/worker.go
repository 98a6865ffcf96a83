package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/scheduler"
)

// Worker runs flows in the background: it consumes queued webhook deliveries from the event
// bus and polls the recurring job store for due poll triggers.
type Worker struct {
	processor  *Processor
	subscriber eventbus.EventSubscriber
	poller     *scheduler.Poller
	logger     *slog.Logger
}

// NewWorker creates a worker. pollInterval is how often the job store is checked for due jobs.
func NewWorker(
	processor *Processor,
	subscriber eventbus.EventSubscriber,
	store scheduler.Store,
	pollInterval time.Duration,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		processor:  processor,
		subscriber: subscriber,
		poller:     scheduler.NewPoller(store, processor.HandleRecurringJob, pollInterval, logger),
		logger:     logger.With("module", "workflow_worker"),
	}
}

// Start subscribes to flow.triggered events and starts polling. It returns once both run.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker")

	err := w.subscriber.Handle(events.FlowTriggeredEvent, w.processor.HandleFlowTriggered)
	if err != nil {
		return err
	}

	err = w.subscriber.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.poller.Start(ctx)

	w.logger.InfoContext(ctx, "Worker started successfully")

	return nil
}

// Stop halts polling. Event delivery stops when the bus is closed.
func (w *Worker) Stop() {
	w.poller.Stop()
}
