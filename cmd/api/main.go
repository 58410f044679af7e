package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"assistant-proxy/cmd"
	"assistant-proxy/internal/api"
	"assistant-proxy/internal/chat"
	"assistant-proxy/internal/config"
	"assistant-proxy/internal/poller"
	"assistant-proxy/internal/ratelimit"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func main() {
	log.Println("Starting chat proxy server...")

	cmd.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	if cfg.OpenAIAssistantID == "" {
		slog.Warn("OPENAI_ASSISTANT_ID is not set, requests must provide an assistantId")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	quota, closeQuota := cmd.CreateQuotaBackend(ctx, cfg)
	defer closeQuota()

	publisher := cmd.CreatePublisher(ctx, cfg)
	defer publisher.Close()

	limiter := ratelimit.NewLimiter(quota, ratelimit.WithWindow(cfg.RateLimitWindow), ratelimit.WithLimit(cfg.RateLimitMax))

	orchestrator := chat.NewOrchestrator(
		cmd.CreateAssistantsClient(cfg),
		poller.New(poller.WithMaxWait(cfg.PollMaxWait), poller.WithInterval(cfg.PollInterval)),
		cfg.OpenAIAssistantID,
		chat.WithEvents(publisher),
	)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{api.HeaderRemaining, api.HeaderReset, api.HeaderRetryAfter},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	api.NewChatService(orchestrator, limiter).AddRoutes(r)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		log.Fatalf("Could not listen on %s: %v", cfg.Port, err)
	}

	slog.Info("chat proxy listening", "port", cfg.Port, "assistant_backend", cfg.AssistantBackend, "rate_limit_backend", cfg.RateLimitBackend)
	if err := cmd.Serve(ctx, server, ln, 30*time.Second); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped.")
}
