package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	AssistantBackendOpenAI = "openai"
	AssistantBackendEcho   = "echo"

	RateLimitBackendMemory = "memory"
	RateLimitBackendSQL    = "sql"
	RateLimitBackendRedis  = "redis"
)

type Config struct {
	OpenAIAPIKey      string `env:"OPENAI_API_KEY"`
	OpenAIAssistantID string `env:"OPENAI_ASSISTANT_ID"`
	OpenAIBaseURL     string `env:"OPENAI_BASE_URL"`
	AssistantBackend  string `env:"ASSISTANT_BACKEND" envDefault:"openai"`

	Port           string        `env:"PORT" envDefault:"3000"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"150s"`
	AllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	RateLimitWindow        time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	RateLimitMax           int           `env:"RATE_LIMIT_MAX" envDefault:"20"`
	RateLimitBackend       string        `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	RateLimitSweepInterval time.Duration `env:"RATE_LIMIT_SWEEP_INTERVAL" envDefault:"0s"`
	RateLimitMaxEntries    int           `env:"RATE_LIMIT_MAX_ENTRIES" envDefault:"0"`
	DatabaseURL            string        `env:"DATABASE_URL"`
	RedisURL               string        `env:"REDIS_URL"`

	PollMaxWait  time.Duration `env:"POLL_MAX_WAIT" envDefault:"120s"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`

	RabbitMQURL         string        `env:"RABBITMQ_URL"`
	EventBufferSize     int           `env:"EVENT_BUFFER_SIZE" envDefault:"256"`
	EventPublishTimeout time.Duration `env:"EVENT_PUBLISH_TIMEOUT" envDefault:"10s"`
}

// Load parses the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	switch c.AssistantBackend {
	case AssistantBackendOpenAI:
		if strings.TrimSpace(c.OpenAIAPIKey) == "" {
			return fmt.Errorf("OPENAI_API_KEY must be set when ASSISTANT_BACKEND is '%s'", AssistantBackendOpenAI)
		}
	case AssistantBackendEcho:
	default:
		return fmt.Errorf("invalid ASSISTANT_BACKEND '%s': must be '%s' or '%s'", c.AssistantBackend, AssistantBackendOpenAI, AssistantBackendEcho)
	}

	switch c.RateLimitBackend {
	case RateLimitBackendMemory:
	case RateLimitBackendSQL:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when RATE_LIMIT_BACKEND is '%s'", RateLimitBackendSQL)
		}
	case RateLimitBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when RATE_LIMIT_BACKEND is '%s'", RateLimitBackendRedis)
		}
	default:
		return fmt.Errorf("invalid RATE_LIMIT_BACKEND '%s'", c.RateLimitBackend)
	}

	if c.RateLimitWindow <= 0 || c.RateLimitMax <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW and RATE_LIMIT_MAX must be positive")
	}
	if c.RateLimitSweepInterval < 0 || c.RateLimitMaxEntries < 0 {
		return fmt.Errorf("RATE_LIMIT_SWEEP_INTERVAL and RATE_LIMIT_MAX_ENTRIES must not be negative")
	}
	if c.PollMaxWait <= 0 || c.PollInterval <= 0 {
		return fmt.Errorf("POLL_MAX_WAIT and POLL_INTERVAL must be positive")
	}
	if c.EventBufferSize <= 0 || c.EventPublishTimeout <= 0 {
		return fmt.Errorf("EVENT_BUFFER_SIZE and EVENT_PUBLISH_TIMEOUT must be positive")
	}

	return nil
}
