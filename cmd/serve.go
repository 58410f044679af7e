package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
)

// Serve runs server on ln until ctx is cancelled, then shuts it down. It only
// returns once the shutdown has finished, so requests that were in flight when
// ctx was cancelled get up to shutdownTimeout to complete.
func Serve(ctx context.Context, server *http.Server, ln net.Listener, shutdownTimeout time.Duration) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		done <- server.Shutdown(shutdownCtx)
	}()

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if err := <-done; err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
