package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/blackmichael/bluesky-importer/internal/bluesky"
	"github.com/blackmichael/bluesky-importer/internal/config"
	"github.com/blackmichael/bluesky-importer/internal/domain"
	"github.com/blackmichael/bluesky-importer/internal/firehose"
	"github.com/blackmichael/bluesky-importer/internal/httpserver"
	"github.com/blackmichael/bluesky-importer/internal/logging"
	"github.com/blackmichael/bluesky-importer/internal/sentiment"
	"github.com/blackmichael/bluesky-importer/internal/store"
	"golang.org/x/time/rate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadEnvFiles(); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Store implements both PostRepository and CursorRepository
	st, err := store.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("connected to database", "dialect", st.Dialect())

	if cfg.AutoMigrate {
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	collector := bluesky.NewCollector(bluesky.CollectorConfig{
		PDS:        cfg.PDS,
		WebBase:    cfg.WebURL,
		Identifier: cfg.Identifier,
		Password:   cfg.AppPassword,
		Limiter:    rate.NewLimiter(rate.Limit(cfg.APIRate), cfg.APIBurst),
	}, logger)

	importService := domain.NewImportService(collector, st, st, logger)

	classifier, err := sentiment.New(cfg.Classifier, cfg.ClassifierModelPath)
	if err != nil {
		return fmt.Errorf("create classifier: %w", err)
	}
	defer classifier.Close()

	// Background jobs write through the store, so it must outlive them
	var background sync.WaitGroup

	// Start the firehose subscriber in the background when rules are configured
	if len(cfg.StreamRules) > 0 {
		matcher, err := domain.NewStreamMatcher(cfg.StreamRules)
		if err != nil {
			return fmt.Errorf("compile stream rules: %w", err)
		}
		subscriber := firehose.NewSubscriber(cfg.FirehoseURL, importService, matcher, firehose.Options{
			FlushSize:     cfg.StreamFlushSize,
			FlushInterval: cfg.StreamFlushInterval,
		}, logger)
		background.Go(func() {
			if err := subscriber.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("firehose subscriber exited with error", "error", err)
			}
		})
		logger.Info("stream ingester enabled", "rules", len(cfg.StreamRules))
	}

	// Start background retention
	if cfg.RetentionMaxAge > 0 {
		background.Go(func() {
			if err := importService.StartRetentionJob(ctx, cfg.RetentionInterval, cfg.RetentionMaxAge); err != nil {
				logger.Error("retention job exited with error", "error", err)
			}
		})
	}

	// Start the HTTP server
	server := httpserver.NewServer(cfg, importService, classifier, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port, "pds", cfg.PDS)

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	// wait for the firehose's final flush and cursor save before the store closes
	background.Wait()
	logger.Info("background jobs stopped")

	return nil
}
