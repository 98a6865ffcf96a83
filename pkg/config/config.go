// Package config holds the runtime settings shared by the stepflow binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	EventBusGoChannel = "gochannel"
	EventBusKafka     = "kafka"

	DefaultPort              = 9091
	DefaultPollInterval      = time.Minute
	DefaultUnregisterTimeout = 10 * time.Second
	DefaultLogLevel          = "info"
	DefaultPluginsPath       = "./plugins"
)

// Config aggregates runtime settings. Flags fill it; an optional YAML file supplies values
// for the settings left unset.
type Config struct {
	DatabaseURL       string        `yaml:"database_url"       validate:"required"`
	RedisURL          string        `yaml:"redis_url"          validate:"omitempty,url"`
	EventBusType      string        `yaml:"event_bus_type"     validate:"omitempty,oneof=gochannel kafka"`
	KafkaBrokers      string        `yaml:"kafka_brokers"      validate:"required_if=EventBusType kafka"`
	WebhookBaseURL    string        `yaml:"webhook_base_url"   validate:"required,url"`
	LogLevel          string        `yaml:"log_level"          validate:"omitempty,oneof=debug info warn error"`
	Port              int           `yaml:"port"               validate:"omitempty,min=1,max=65535"`
	PollInterval      time.Duration `yaml:"poll_interval"      validate:"omitempty,min=1s"`
	UnregisterTimeout time.Duration `yaml:"unregister_timeout" validate:"omitempty,min=1s"`
	PluginsPath       string        `yaml:"plugins_path"`
	OtelEnabled       bool          `yaml:"otel_enabled"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return cfg, nil
}

// Merge fills the zero settings of c with the values of other.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	c.DatabaseURL = firstNonEmpty(c.DatabaseURL, other.DatabaseURL)
	c.RedisURL = firstNonEmpty(c.RedisURL, other.RedisURL)
	c.EventBusType = firstNonEmpty(c.EventBusType, other.EventBusType)
	c.KafkaBrokers = firstNonEmpty(c.KafkaBrokers, other.KafkaBrokers)
	c.WebhookBaseURL = firstNonEmpty(c.WebhookBaseURL, other.WebhookBaseURL)
	c.LogLevel = firstNonEmpty(c.LogLevel, other.LogLevel)
	c.PluginsPath = firstNonEmpty(c.PluginsPath, other.PluginsPath)

	if c.Port == 0 {
		c.Port = other.Port
	}

	if c.PollInterval == 0 {
		c.PollInterval = other.PollInterval
	}

	if c.UnregisterTimeout == 0 {
		c.UnregisterTimeout = other.UnregisterTimeout
	}

	c.OtelEnabled = c.OtelEnabled || other.OtelEnabled
}

// ApplyDefaults sets the defaults of the settings still unset.
func (c *Config) ApplyDefaults() {
	c.EventBusType = firstNonEmpty(c.EventBusType, EventBusGoChannel)
	c.LogLevel = firstNonEmpty(c.LogLevel, DefaultLogLevel)
	c.PluginsPath = firstNonEmpty(c.PluginsPath, DefaultPluginsPath)

	if c.Port == 0 {
		c.Port = DefaultPort
	}

	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}

	if c.UnregisterTimeout == 0 {
		c.UnregisterTimeout = DefaultUnregisterTimeout
	}
}

// Validate checks the settings and reports every invalid one.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s: failed on %s", fieldErr.Field(), fieldErr.Tag()))
	}

	return fmt.Errorf("invalid configuration: %s", strings.Join(messages, "; "))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}

	return ""
}
