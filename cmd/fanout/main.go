// The fanout service bridges execution progress events from Redis pub/sub to
// WebSocket subscribers. It folds the engine's snapshot/delta frames into
// full snapshots, keeps the latest state per execution for late joiners, and
// pushes every update to the sockets watching that execution.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/runlet/engine/common/bootstrap"
)

func main() {
	// Load .env if present; real environments set variables directly.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry stays off: the relay shares a host with the engine in the
	// default deployment and would collide with its pprof and metrics ports.
	components, err := bootstrap.Setup(ctx, "fanout", bootstrap.WithoutDB(), bootstrap.WithoutTelemetry())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize fanout service: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())
	log := components.Logger

	hub := NewHub(log.Named("hub"))
	go hub.Run(ctx)

	subscriber := NewSubscriber(components.Redis.GetUnderlying(), hub, log.Named("subscriber"))
	subscriberErrors := make(chan error, 1)
	go func() {
		subscriberErrors <- subscriber.Start(ctx)
	}()

	server := NewServer(hub, components)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.HandleWebSocket)
	mux.HandleFunc("/health", server.HandleHealth)

	// No read or write timeouts: WebSocket connections are long-lived and a
	// timeout would sever them. The ping/pong deadlines in the client pumps
	// detect dead peers instead.
	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", components.Config.Service.Port),
		Handler:     mux,
		IdleTimeout: 120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("fanout service listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	select {
	case err := <-serverErrors:
		log.Error("server failed", "error", err)
	case err := <-subscriberErrors:
		if err != nil {
			log.Error("subscriber failed", "error", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(drainCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	log.Info("fanout service stopped")
}
