// Command cylon is the entry point for the serving core. It loads
// configuration, loads the model backend, wires the serving core and HTTP
// surface, and handles graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/cylonrun/cylon/internal/config"
	"github.com/cylonrun/cylon/internal/generation"
	"github.com/cylonrun/cylon/internal/httpserver"
	"github.com/cylonrun/cylon/internal/logging"
	"github.com/cylonrun/cylon/internal/model"
	"github.com/cylonrun/cylon/internal/resultcache"
	"github.com/cylonrun/cylon/internal/sampling"
	"github.com/cylonrun/cylon/internal/serving"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "config/cylon.yaml", "path to cylon.yaml")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config %q: %w", *cfgPath, err)
	}

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}

	var errLogger *logging.ErrorLogger
	if cfg.Logging.ErrorLogDir != "" && cfg.Logging.ErrorLogFilename != "" {
		errLogger = logging.NewErrorLogger(cfg.Logging.ErrorLogDir, cfg.Logging.ErrorLogFilename)
	}

	logger.Info("configuration loaded",
		slog.String("config", *cfgPath),
		slog.String("model_family", cfg.Model.Family),
		slog.String("model_path", cfg.Model.Path),
		slog.Bool("queue_disabled", cfg.Queue.Disabled),
	)

	backend, err := model.Load(cfg, logger)
	if err != nil {
		return fmt.Errorf("loading model: %w", err)
	}

	core := serving.New(backend, logger, serving.Config{
		SystemPrompt:    cfg.SystemPrompt,
		QueueDisabled:   cfg.Queue.Disabled,
		QueueBufferSize: cfg.Queue.BufferSize,
		ResultCacheTTL:  time.Duration(cfg.ResultCache.TTLSeconds) * time.Second,
		Generation: generation.Config{
			Sampling: sampling.Config{
				Temperature: cfg.Sampling.Temperature,
				TopK:        cfg.Sampling.TopK,
				TopP:        cfg.Sampling.TopP,
				Seed:        cfg.Sampling.Seed,
			},
			RepeatPenalty: cfg.Sampling.RepeatPenalty,
			RepeatLastN:   cfg.Sampling.RepeatLastN,
			SampleLen:     cfg.Sampling.SampleLen,
			EnableKVCache: cfg.Model.EnableKVCache,
		},
		ErrorLogger: errLogger,
	})

	evictCtx, stopEviction := context.WithCancel(context.Background())
	defer stopEviction()
	go resultcache.RunEvictionLoop(evictCtx, logger, core.Cache(),
		time.Duration(cfg.ResultCache.CleanupIntervalSeconds)*time.Second)

	srv := httpserver.New(cfg, core, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("signal received, shutting down", slog.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
