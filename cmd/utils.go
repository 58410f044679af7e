package cmd

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"time"

	"assistant-proxy/internal/assistants"
	"assistant-proxy/internal/config"
	"assistant-proxy/internal/database"
	"assistant-proxy/internal/messaging"
	"assistant-proxy/internal/ratelimit"

	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	if err := godotenv.Load(configPath); err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

func CreateAssistantsClient(cfg config.Config) assistants.Client {
	if cfg.AssistantBackend == config.AssistantBackendEcho {
		slog.Warn("using echo assistants backend, replies are not generated by OpenAI")
		return assistants.NewEchoClient()
	}

	client, err := assistants.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	if err != nil {
		log.Fatalf("Failed to create OpenAI client: %v", err)
	}
	return client
}

// CreateQuotaBackend builds the rate limit backend and starts its janitor when
// a sweep interval is configured. The returned func releases its resources.
func CreateQuotaBackend(ctx context.Context, cfg config.Config) (ratelimit.Backend, func()) {
	switch cfg.RateLimitBackend {
	case config.RateLimitBackendSQL:
		db, err := database.NewDatabase(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		backend := ratelimit.NewSQLBackend(db)
		if cfg.RateLimitSweepInterval > 0 {
			go sweepSQL(ctx, backend, cfg.RateLimitSweepInterval)
		}
		return backend, func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close() //nolint:errcheck
			}
		}

	case config.RateLimitBackendRedis:
		backend, err := ratelimit.NewRedisBackend(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		return backend, func() {
			if err := backend.Close(); err != nil {
				slog.Error("error closing redis client", "error", err)
			}
		}

	default:
		backend := ratelimit.NewMemoryBackend(cfg.RateLimitMaxEntries)
		if cfg.RateLimitSweepInterval > 0 {
			go backend.Run(ctx, cfg.RateLimitSweepInterval)
		}
		return backend, func() {}
	}
}

func sweepSQL(ctx context.Context, backend *ratelimit.SQLBackend, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := backend.Sweep(ctx, now)
			if err != nil {
				slog.Error("error sweeping expired rate limit entries", "error", err)
				continue
			}
			if removed > 0 {
				slog.Info("swept expired rate limit entries", "removed", removed)
			}
		}
	}
}

// CreatePublisher returns the run event publisher. Events go to RabbitMQ when
// RABBITMQ_URL is set and are logged otherwise. Either way they are forwarded
// from a bounded buffer so a slow broker never holds up a chat request.
func CreatePublisher(ctx context.Context, cfg config.Config) messaging.Publisher {
	var publisher messaging.Publisher = messaging.LogPublisher{}

	if cfg.RabbitMQURL != "" {
		rabbit, err := messaging.NewRabbitMQPublisher(ctx, cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		publisher = rabbit
	}

	return messaging.NewAsyncPublisher(publisher, cfg.EventBufferSize, cfg.EventPublishTimeout)
}
