package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"assistant-proxy/cmd"
	"assistant-proxy/internal/config"
	"assistant-proxy/internal/messaging"
)

// Tails the run events queue and logs each event, printing outcome totals on
// exit.
func main() {
	log.Println("Starting run event consumer...")

	cmd.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	if cfg.RabbitMQURL == "" {
		log.Fatalf("RABBITMQ_URL must be set to consume run events")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	receiver, err := messaging.NewRabbitMQReceiver(ctx, cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	processor := messaging.NewRunEventProcessor(receiver)

	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Start()
	}()

	select {
	case <-ctx.Done():
		log.Println("Shutdown signal received, stopping consumer...")
		processor.Stop()
		<-done
	case <-done:
		slog.Warn("rabbitmq delivery channel closed")
	}

	slog.Info("run event totals", "outcomes", processor.Outcomes())
	log.Println("Run event consumer stopped.")
}
