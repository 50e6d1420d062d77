package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/aegis/internal/app"
	"github.com/dvloznov/aegis/internal/config"
	"github.com/dvloznov/aegis/internal/jobs"
	"github.com/dvloznov/aegis/internal/jobs/inmemory"
	"github.com/dvloznov/aegis/internal/logger"
)

func main() {
	interval := flag.Duration("poll-interval", 5*time.Second, "How often to look for pending jobs")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewFromConfig(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	handler, err := a.JobHandler()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ETL job handler")
	}

	jobQueue := inmemory.NewQueue(inmemory.Options{
		BufferSize: cfg.JobQueueSize,
		Workers:    cfg.JobWorkers,
		MaxRetries: cfg.JobMaxRetries,
	}, a.Jobs)
	if err := jobQueue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	poller := &jobs.Poller{Store: a.Jobs, Publisher: jobQueue, Interval: *interval, Batch: cfg.JobQueueSize}
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Job poller stopped")
		}
	}()

	log.Info().Int("workers", cfg.JobWorkers).Dur("poll_interval", *interval).Msg("Worker service started, waiting for jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")
	cancel()
	<-pollDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
