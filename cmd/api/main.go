package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dvloznov/aegis/internal/api"
	"github.com/dvloznov/aegis/internal/api/handlers"
	"github.com/dvloznov/aegis/internal/app"
	"github.com/dvloznov/aegis/internal/config"
	"github.com/dvloznov/aegis/internal/jobs"
	"github.com/dvloznov/aegis/internal/jobs/inmemory"
	"github.com/dvloznov/aegis/internal/logger"
)

func main() {
	var (
		port        = flag.Int("port", 0, "HTTP server port (overrides AEGIS_PORT)")
		noWorker    = flag.Bool("no-worker", false, "Do not run ETL jobs in this process")
		requireAuth = flag.Bool("require-auth", true, "Reject API requests without a bearer token")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != 0 {
		cfg.Port = *port
	}
	log := logger.NewFromConfig(cfg.LogLevel, cfg.LogFormat)

	ctx := logger.WithContext(context.Background(), log)
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	jobQueue := inmemory.NewQueue(inmemory.Options{
		BufferSize: cfg.JobQueueSize,
		Workers:    cfg.JobWorkers,
		MaxRetries: cfg.JobMaxRetries,
	}, a.Jobs)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	// With --no-worker, jobs are only recorded as pending and cmd/worker
	// picks them up from the job store.
	var publisher jobs.Publisher = jobQueue
	if *noWorker {
		publisher = &jobs.StorePublisher{Store: a.Jobs, MaxRetries: cfg.JobMaxRetries}
	} else {
		handler, err := a.JobHandler()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create ETL job handler")
		}
		log.Info().Int("workers", cfg.JobWorkers).Msg("Starting embedded ETL worker")
		if err := jobQueue.Start(workerCtx, handler); err != nil {
			log.Fatal().Err(err).Msg("Failed to start ETL worker")
		}
	}

	handler := api.NewRouter(api.Handlers{
		Chat:    handlers.NewChatHandler(a.Model),
		Banks:   handlers.NewBanksHandler(a.Banks),
		Reports: handlers.NewReportsHandler(a.Reports),
		Jobs:    handlers.NewJobsHandler(publisher, a.Jobs),
	}, log, api.Options{RequireAuth: *requireAuth})

	// Chat responses stream for as long as the model runs, so there is no
	// write timeout.
	server := &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.Port),
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
