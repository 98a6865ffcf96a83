package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultPollInterval = time.Minute

// Handler runs a due recurring job.
type Handler func(ctx context.Context, job RecurringJob) error

// Poller checks the store for due jobs on a fixed tick and hands each one to the handler,
// whatever its own cron pattern is.
type Poller struct {
	store    Store
	handler  Handler
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	ticker  *time.Ticker
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewPoller creates a poller. A non-positive interval polls every minute.
func NewPoller(store Store, handler Handler, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}

	return &Poller{
		store:    store,
		handler:  handler,
		interval: interval,
		logger:   logger.With("module", "scheduler_poller"),
		now:      time.Now,
	}
}

func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.logger.Info("Starting recurring job poller", "interval", p.interval)

	p.ticker = time.NewTicker(p.interval)
	p.done = make(chan struct{})
	p.started = true

	p.wg.Add(1)

	go p.poll(ctx, p.ticker, p.done)
}

// Stop halts polling and waits for an in-flight round to finish.
func (p *Poller) Stop() {
	p.mu.Lock()

	if !p.started {
		p.mu.Unlock()

		return
	}

	p.ticker.Stop()
	close(p.done)
	p.started = false
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Recurring job poller stopped")
}

func (p *Poller) poll(ctx context.Context, ticker *time.Ticker, done <-chan struct{}) {
	defer p.wg.Done()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessDue(ctx)
		}
	}
}

// ProcessDue runs every job due now and moves it to its next activation. A handler failure
// is logged and the job still advances, so one broken flow cannot stall its schedule.
func (p *Poller) ProcessDue(ctx context.Context) int {
	now := p.now().UTC()

	due, err := p.store.Due(ctx, now)
	if err != nil {
		p.logger.Error("Failed to get due recurring jobs", "error", err)

		return 0
	}

	if len(due) > 0 {
		p.logger.Info("Processing due recurring jobs", "count", len(due))
	}

	processed := 0

	for _, job := range due {
		p.logger.Debug("Processing due recurring job",
			"job_id", job.ID,
			"pattern", job.Pattern,
			"due_at", job.NextDueAt)

		if err := p.handler(ctx, job); err != nil {
			p.logger.Error("Recurring job failed", "job_id", job.ID, "error", err)
		} else {
			processed++
		}

		next, err := p.store.Advance(ctx, job.Key, now)
		if err != nil {
			p.logger.Error("Failed to advance recurring job", "job_id", job.ID, "error", err)

			continue
		}

		p.logger.Debug("Recurring job advanced", "job_id", job.ID, "next_due_at", next)
	}

	return processed
}
