package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gkaragoz/gps-tracker-server/internal/server"
)

const shutdownTimeout = 10 * time.Second

// newLocationStore builds the configured store backend. Failure to reach the
// persistence backend is fatal: the relay has no degraded mode without it.
func newLocationStore(cfg server.StoreConfig) (server.LocationStore, io.Closer, error) {
	switch cfg.Backend {
	case server.StoreBackendRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		store, err := server.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Using redis location store at %s", cfg.RedisAddr)
		return store, store, nil
	case server.StoreBackendUnitDB:
		store, err := server.NewUnitDBStore(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Using unitdb location store at %s", cfg.DBPath)
		return store, store, nil
	default:
		log.Println("Using in-memory location store; histories will not survive restarts")
		return server.NewMemoryStore(), nil, nil
	}
}

func main() {
	fmt.Println("Starting location relay server...")

	config := server.NewConfigFromEnv()
	server.SetConfig(config)

	store, closer, err := newLocationStore(config.Store)
	if err != nil {
		log.Fatalf("Failed to initialize location store: %v", err)
	}
	if closer != nil {
		defer func() {
			if err := closer.Close(); err != nil {
				log.Printf("Error closing location store: %v", err)
			}
		}()
	}

	hub := server.NewHub(store)
	server.StartHub(hub)

	mux := server.SetupRoutes(hub, store)
	httpServer := server.CreateServer(config.Port, mux)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		log.Printf("HTTP shutdown did not complete cleanly: %v", err)
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		log.Printf("Hub shutdown did not complete cleanly: %v", err)
	}
}
