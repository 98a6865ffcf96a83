package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/scheduler"
	redis "github.com/redis/go-redis/v9"
)

// NewSchedulerStore keeps recurring jobs in Redis when redisURL is set and in memory otherwise.
// The returned close function releases the Redis connection.
//
// nolint:ireturn // the store is chosen at runtime
func NewSchedulerStore(redisURL string, logger *slog.Logger) (scheduler.Store, func() error, error) {
	if redisURL == "" {
		logger.Warn("No Redis configured, recurring jobs are kept in memory")

		return scheduler.NewMemoryStore(), func() error { return nil }, nil
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{options.Addr},
		DB:       options.DB,
		Username: options.Username,
		Password: options.Password,
	})

	return scheduler.NewRedisStore(client, ""), client.Close, nil
}
