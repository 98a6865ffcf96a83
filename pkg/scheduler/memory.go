package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps recurring jobs in process. It backs single-process setups and tests.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]RecurringJob
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: map[string]RecurringJob{}, now: time.Now}
}

func (s *MemoryStore) AddRecurring(_ context.Context, jobKey string, payload map[string]any, pattern string) error {
	job, err := newJob(jobKey, payload, pattern, s.now())
	if err != nil {
		return &SchedulerError{Op: "AddRecurring", JobKey: jobKey, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, existing := range s.jobs {
		if existing.ID == jobKey {
			delete(s.jobs, key)
		}
	}

	s.jobs[job.Key] = job

	return nil
}

func (s *MemoryStore) ListRecurring(_ context.Context) ([]RecurringJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]RecurringJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Key < jobs[j].Key })

	return jobs, nil
}

func (s *MemoryStore) RemoveRecurring(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[key]; !ok {
		return &SchedulerError{Op: "RemoveRecurring", JobKey: key, Err: ErrJobNotFound}
	}

	delete(s.jobs, key)

	return nil
}

func (s *MemoryStore) Due(_ context.Context, now time.Time) ([]RecurringJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []RecurringJob

	for _, job := range s.jobs {
		if !job.NextDueAt.After(now) {
			due = append(due, job)
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].NextDueAt.Before(due[j].NextDueAt) })

	return due, nil
}

func (s *MemoryStore) Advance(_ context.Context, key string, after time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[key]
	if !ok {
		return time.Time{}, &SchedulerError{Op: "Advance", JobKey: key, Err: ErrJobNotFound}
	}

	next, err := nextActivation(job.Pattern, after)
	if err != nil {
		return time.Time{}, &SchedulerError{Op: "Advance", JobKey: key, Err: err}
	}

	job.NextDueAt = next
	s.jobs[key] = job

	return next, nil
}
