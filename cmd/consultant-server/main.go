// Package main provides the HTTP/WebSocket server for the consultant job
// engine.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chyon8/AI-consultant-sub001/internal/config"
	"github.com/chyon8/AI-consultant-sub001/internal/jobs"
	"github.com/chyon8/AI-consultant-sub001/internal/llm"
	"github.com/chyon8/AI-consultant-sub001/internal/metrics"
	"github.com/chyon8/AI-consultant-sub001/internal/server"
	"github.com/chyon8/AI-consultant-sub001/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()
	slog.SetDefault(logger)

	slog.Info("starting consultant-server",
		"addr", cfg.Addr, "provider", cfg.LLMProvider, "model", cfg.LLMModel)

	generator, err := llm.NewModel(cfg)
	if err != nil {
		slog.Error("failed to create generator", "error", err)
		os.Exit(1)
	}

	registry := jobs.NewRegistry(jobs.Options{
		Retention:    cfg.JobRetention,
		ReapInterval: cfg.ReapInterval,
		Logger:       logger,
	})
	registry.Start()
	defer registry.Shutdown()

	collector := metrics.NewCollector()
	svc := service.New(registry, generator, collector, logger)
	srv := server.New(cfg.Addr, registry, svc, collector, logger)

	go func() {
		if err := srv.Run(); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
