// Package scheduler keeps recurring jobs and runs them when they are due.
//
// A recurring job is identified by the flow it belongs to: the job id IS the flow id, so
// a flow has at most one recurring job and re-adding under the same id replaces it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// EveryFifteenMinutes is the cadence used when a poll trigger declares no interval.
const EveryFifteenMinutes = "*/15 * * * *"

var (
	ErrInvalidPattern = errors.New("invalid cron pattern")
	ErrJobNotFound    = errors.New("recurring job not found")
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// RecurringJob is one registration of a recurring job.
type RecurringJob struct {
	// ID is the job key given to AddRecurring, the owning flow's id.
	ID string `json:"id"`
	// Key identifies this registration (id and pattern) and is what RemoveRecurring takes.
	Key       string         `json:"key"`
	Pattern   string         `json:"pattern"`
	Payload   map[string]any `json:"payload,omitempty"`
	NextDueAt time.Time      `json:"next_due_at"`
}

// Scheduler is the recurring job contract used when flows are published and unpublished.
type Scheduler interface {
	// AddRecurring registers a job under jobKey, replacing any job already registered under it.
	AddRecurring(ctx context.Context, jobKey string, payload map[string]any, pattern string) error
	ListRecurring(ctx context.Context) ([]RecurringJob, error)
	// RemoveRecurring removes the registration with the given Key.
	RemoveRecurring(ctx context.Context, key string) error
}

// Store is a Scheduler that can also hand out due jobs.
type Store interface {
	Scheduler
	Due(ctx context.Context, now time.Time) ([]RecurringJob, error)
	// Advance moves the job's next due time to the first activation after the given time.
	Advance(ctx context.Context, key string, after time.Time) (time.Time, error)
}

// SchedulerError wraps a failure of a recurring job operation.
type SchedulerError struct {
	Op     string
	JobKey string
	Err    error
}

func (e *SchedulerError) Error() string {
	return fmt.Sprintf("scheduler %s failed for job %s: %v", e.Op, e.JobKey, e.Err)
}

func (e *SchedulerError) Unwrap() error {
	return e.Err
}

func newJob(jobKey string, payload map[string]any, pattern string, now time.Time) (RecurringJob, error) {
	next, err := nextActivation(pattern, now)
	if err != nil {
		return RecurringJob{}, err
	}

	return RecurringJob{
		ID:        jobKey,
		Key:       registrationKey(jobKey, pattern),
		Pattern:   pattern,
		Payload:   payload,
		NextDueAt: next,
	}, nil
}

func registrationKey(jobKey, pattern string) string {
	return jobKey + "::" + pattern
}

func nextActivation(pattern string, after time.Time) (time.Time, error) {
	schedule, err := parser.Parse(pattern)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %w", ErrInvalidPattern, pattern, err)
	}

	return schedule.Next(after.UTC()), nil
}
