package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "stepflow:recurring"

// RedisStore keeps recurring jobs in Redis:
//
//	<prefix>:jobs  hash  registration key -> job JSON
//	<prefix>:ids   hash  job id -> registration key
//	<prefix>:due   zset  registration key scored by next due unix time
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store using keys under prefix. An empty prefix uses "stepflow:recurring".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) jobsKey() string { return s.prefix + ":jobs" }
func (s *RedisStore) idsKey() string  { return s.prefix + ":ids" }
func (s *RedisStore) dueKey() string  { return s.prefix + ":due" }

// AddRecurring replaces the job registered under jobKey in a single optimistic transaction.
func (s *RedisStore) AddRecurring(ctx context.Context, jobKey string, payload map[string]any, pattern string) error {
	job, err := newJob(jobKey, payload, pattern, s.now())
	if err != nil {
		return &SchedulerError{Op: "AddRecurring", JobKey: jobKey, Err: err}
	}

	data, err := json.Marshal(job)
	if err != nil {
		return &SchedulerError{Op: "AddRecurring", JobKey: jobKey, Err: err}
	}

	txf := func(tx *redis.Tx) error {
		previous, err := tx.HGet(ctx, s.idsKey(), jobKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if previous != "" && previous != job.Key {
				pipe.HDel(ctx, s.jobsKey(), previous)
				pipe.ZRem(ctx, s.dueKey(), previous)
			}

			pipe.HSet(ctx, s.jobsKey(), job.Key, data)
			pipe.HSet(ctx, s.idsKey(), jobKey, job.Key)
			pipe.ZAdd(ctx, s.dueKey(), redis.Z{Score: float64(job.NextDueAt.Unix()), Member: job.Key})

			return nil
		})

		return err
	}

	err = s.client.Watch(ctx, txf, s.idsKey())
	if err != nil {
		return &SchedulerError{Op: "AddRecurring", JobKey: jobKey, Err: err}
	}

	return nil
}

func (s *RedisStore) ListRecurring(ctx context.Context) ([]RecurringJob, error) {
	values, err := s.client.HGetAll(ctx, s.jobsKey()).Result()
	if err != nil {
		return nil, &SchedulerError{Op: "ListRecurring", Err: err}
	}

	jobs := make([]RecurringJob, 0, len(values))

	for key, value := range values {
		job, err := decodeJob(value)
		if err != nil {
			return nil, &SchedulerError{Op: "ListRecurring", JobKey: key, Err: err}
		}

		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Key < jobs[j].Key })

	return jobs, nil
}

func (s *RedisStore) RemoveRecurring(ctx context.Context, key string) error {
	value, err := s.client.HGet(ctx, s.jobsKey(), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &SchedulerError{Op: "RemoveRecurring", JobKey: key, Err: ErrJobNotFound}
		}

		return &SchedulerError{Op: "RemoveRecurring", JobKey: key, Err: err}
	}

	job, err := decodeJob(value)
	if err != nil {
		return &SchedulerError{Op: "RemoveRecurring", JobKey: key, Err: err}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.jobsKey(), key)
		pipe.ZRem(ctx, s.dueKey(), key)
		pipe.HDel(ctx, s.idsKey(), job.ID)

		return nil
	})
	if err != nil {
		return &SchedulerError{Op: "RemoveRecurring", JobKey: key, Err: err}
	}

	return nil
}

func (s *RedisStore) Due(ctx context.Context, now time.Time) ([]RecurringJob, error) {
	keys, err := s.client.ZRangeByScore(ctx, s.dueKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, &SchedulerError{Op: "Due", Err: err}
	}

	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.HMGet(ctx, s.jobsKey(), keys...).Result()
	if err != nil {
		return nil, &SchedulerError{Op: "Due", Err: err}
	}

	due := make([]RecurringJob, 0, len(values))

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Removed between the two reads.
			continue
		}

		job, err := decodeJob(raw)
		if err != nil {
			return nil, &SchedulerError{Op: "Due", JobKey: keys[i], Err: err}
		}

		due = append(due, job)
	}

	return due, nil
}

func (s *RedisStore) Advance(ctx context.Context, key string, after time.Time) (time.Time, error) {
	value, err := s.client.HGet(ctx, s.jobsKey(), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, &SchedulerError{Op: "Advance", JobKey: key, Err: ErrJobNotFound}
		}

		return time.Time{}, &SchedulerError{Op: "Advance", JobKey: key, Err: err}
	}

	job, err := decodeJob(value)
	if err != nil {
		return time.Time{}, &SchedulerError{Op: "Advance", JobKey: key, Err: err}
	}

	job.NextDueAt, err = nextActivation(job.Pattern, after)
	if err != nil {
		return time.Time{}, &SchedulerError{Op: "Advance", JobKey: key, Err: err}
	}

	data, err := json.Marshal(job)
	if err != nil {
		return time.Time{}, &SchedulerError{Op: "Advance", JobKey: key, Err: err}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.jobsKey(), key, data)
		pipe.ZAdd(ctx, s.dueKey(), redis.Z{Score: float64(job.NextDueAt.Unix()), Member: key})

		return nil
	})
	if err != nil {
		return time.Time{}, &SchedulerError{Op: "Advance", JobKey: key, Err: err}
	}

	return job.NextDueAt, nil
}

func decodeJob(value string) (RecurringJob, error) {
	var job RecurringJob

	err := json.Unmarshal([]byte(value), &job)
	if err != nil {
		return RecurringJob{}, fmt.Errorf("failed to decode recurring job: %w", err)
	}

	return job, nil
}
