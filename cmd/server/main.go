package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackmichael/social-scheduler/internal/app"
	"github.com/blackmichael/social-scheduler/internal/config"
	"github.com/blackmichael/social-scheduler/internal/domain"
	"github.com/blackmichael/social-scheduler/internal/httpserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	logger.Info("connected to database", "targets", cfg.Scheduler.Targets)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	scheduler := domain.NewScheduler(a.Service, cfg.Scheduler.Interval, logger)
	if cfg.Scheduler.Enabled {
		go scheduler.Run(ctx)
	} else {
		logger.Info("scheduler disabled")
	}

	opts := []httpserver.Option{
		httpserver.WithScheduler(scheduler),
		httpserver.WithEvents(a.Events),
	}
	if a.Auth != nil {
		go a.Auth.StartCleanupJob(ctx, time.Minute)
		opts = append(opts, httpserver.WithAuth(a.Auth))
	} else {
		logger.Info("twitter oauth not configured")
	}

	server := httpserver.NewServer(cfg, a.Service, logger, opts...)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port)

	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}
