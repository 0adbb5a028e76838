// Package main provides the long-running patrol agent: the HTTP surface,
// connectivity probing, periodic synchronization and the round cronometer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/patrolsync/internal/app"
	"github.com/raphaelgruber/patrolsync/internal/config"
	"github.com/raphaelgruber/patrolsync/internal/server"
	"github.com/raphaelgruber/patrolsync/internal/service"
)

const version = "0.1.0"

func main() {
	// Parse flags
	profile := flag.String("profile", "", "YAML site profile applied on top of the environment")
	flag.Parse()

	// Load configuration
	cfg := config.Load()
	if *profile != "" {
		if err := cfg.ApplyProfileFile(*profile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()
	slog.SetDefault(logger)

	logger.Info("patrol-server starting",
		"version", version,
		"port", cfg.ServerPort,
		"surrealdb_url", cfg.SurrealDBURL,
		"operator", cfg.OperatorID,
		"client", cfg.Client,
		"unit", cfg.Unit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	device, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to set up device", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing device state")
		if err := device.Close(context.Background()); err != nil {
			logger.Error("failed to close device state", "error", err)
		}
	}()

	// Probe once so resume sees the real network state
	device.Probe(ctx)
	if r, sum, err := device.Session.Resume(ctx); err != nil {
		logger.Warn("failed to resume round", "error", err)
	} else if sum != nil {
		logger.Info("round closed on resume", "round", sum.RoundID, "state", sum.State)
	} else if r != nil {
		logger.Info("round resumed", "round", r.ID, "template", r.TemplateName)
	}

	go device.Run(ctx, func(t service.Tick) {
		if t.Summary != nil {
			logger.Info("round closed by tolerance window", "round", t.RoundID, "state", t.Summary.State)
		}
	})

	srv := server.New(device.Components(), logger)
	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("GraphQL API available", "url", fmt.Sprintf("http://localhost:%s/query", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// SIGUSR1 signals that the operator brought the app back to the foreground
	wake := make(chan os.Signal, 1)
	signal.Notify(wake, syscall.SIGUSR1)
	go func() {
		for range wake {
			device.Reconciler.Trigger(ctx, service.ReasonVisibilityRestored)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down server...", "signal", sig)

	cancel()
	signal.Stop(wake)

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
