package cmd

import (
	"github.com/dukex/stepflow/pkg/config"
	cli "github.com/urfave/cli/v3"
)

// Flags are the settings shared by the binaries.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML configuration file; flags take precedence over it",
			Sources: cli.EnvVars("STEPFLOW_CONFIG"),
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL for persistence (postgres://... or file://<dir>)",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for recurring jobs; jobs are kept in memory when empty",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "webhook-base-url",
			Usage:   "Public base URL webhook paths are appended to",
			Sources: cli.EnvVars("WEBHOOK_BASE_URL"),
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "How often the recurring job store is checked for due jobs",
			Sources: cli.EnvVars("POLL_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "unregister-timeout",
			Usage:   "Time allowed to remove remote webhooks when a flow is deleted",
			Sources: cli.EnvVars("UNREGISTER_TIMEOUT"),
		},
		&cli.StringFlag{
			Name:    "plugins-path",
			Usage:   "Path to the directory containing app plugins",
			Sources: cli.EnvVars("PLUGINS_PATH"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

// LoadConfig builds the configuration from the flags, then the file given by --config,
// then defaults, and validates the result.
func LoadConfig(command *cli.Command) (*config.Config, error) {
	cfg := &config.Config{
		DatabaseURL:       command.String("database-url"),
		RedisURL:          command.String("redis-url"),
		EventBusType:      command.String("event-bus"),
		KafkaBrokers:      command.String("kafka-brokers"),
		WebhookBaseURL:    command.String("webhook-base-url"),
		PollInterval:      command.Duration("poll-interval"),
		UnregisterTimeout: command.Duration("unregister-timeout"),
		PluginsPath:       command.String("plugins-path"),
		OtelEnabled:       command.Bool("otel-enabled"),
		LogLevel:          command.String("log-level"),
	}

	if command.IsSet("port") {
		cfg.Port = command.Int("port")
	}

	if path := command.String("config"); path != "" {
		fromFile, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}

		cfg.Merge(fromFile)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
