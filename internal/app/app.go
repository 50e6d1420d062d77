// Package app builds the Aegis services from configuration. The API server,
// worker and CLI share it.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/aegis/internal/agents/clarifier"
	"github.com/dvloznov/aegis/internal/agents/planner"
	"github.com/dvloznov/aegis/internal/agents/response"
	"github.com/dvloznov/aegis/internal/agents/router"
	"github.com/dvloznov/aegis/internal/agents/summarizer"
	"github.com/dvloznov/aegis/internal/config"
	"github.com/dvloznov/aegis/internal/etl"
	"github.com/dvloznov/aegis/internal/etl/callsummary"
	"github.com/dvloznov/aegis/internal/etl/cmreadthrough"
	"github.com/dvloznov/aegis/internal/etl/keythemes"
	"github.com/dvloznov/aegis/internal/infra/bigquery"
	"github.com/dvloznov/aegis/internal/infra/postgres"
	"github.com/dvloznov/aegis/internal/jobs"
	"github.com/dvloznov/aegis/internal/llm"
	"github.com/dvloznov/aegis/internal/orchestrator"
	"github.com/dvloznov/aegis/internal/prompts"
	"github.com/dvloznov/aegis/internal/storage"
	"github.com/dvloznov/aegis/internal/subagents"
	"github.com/dvloznov/aegis/internal/subagents/benchmarking"
	"github.com/dvloznov/aegis/internal/subagents/reports"
	"github.com/dvloznov/aegis/internal/subagents/sectioned"
	"github.com/dvloznov/aegis/internal/subagents/transcripts"
)

// App holds the connections and services built from a Config.
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	DB      *postgres.Pool
	BQ      *bigquery.Client
	Storage *storage.GCS

	Prompts *prompts.Loader
	Clients *llm.ClientCache

	Banks       *postgres.AvailabilityRepository
	Transcripts *postgres.TranscriptRepository
	Reports     *postgres.ReportRepository
	Jobs        *postgres.JobStore

	Model      *orchestrator.Model
	Generators map[jobs.JobType]etl.Generator
}

// New connects to Postgres and, when configured, BigQuery and GCS, and
// builds the conversational model and ETL generators. BigQuery-backed
// databases are left out when no project is configured.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("app.New: %w", err)
	}
	a.DB = db

	if cfg.BigQueryProject != "" {
		bq, err := bigquery.NewClient(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.BQ = bq
	} else {
		log.Warn().Msg("No BigQuery project configured - benchmarking, rts, pillar3 and the run ledger are disabled")
	}

	if cfg.ReportsBucket != "" {
		gcs, err := storage.NewGCS(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.Storage = gcs
	} else {
		log.Warn().Msg("No reports bucket configured - report artifacts will not be uploaded")
	}

	embedded, err := prompts.NewEmbeddedStore()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app.New: %w", err)
	}
	a.Prompts = prompts.NewLoader(prompts.NewFallbackStore(prompts.NewPostgresStore(db), embedded))
	a.Clients = llm.NewClientCache(cfg.ClientCacheTTL, llm.NewFactory(ctx, cfg))

	a.Banks = postgres.NewAvailabilityRepository(db)
	a.Transcripts = postgres.NewTranscriptRepository(db)
	a.Reports = postgres.NewReportRepository(db)
	a.Jobs = postgres.NewJobStore(db)

	a.Model = a.newModel()
	a.Generators = a.newGenerators()
	return a, nil
}

func (a *App) newModel() *orchestrator.Model {
	cfg := a.Config
	models := subagents.Models{
		Select:      cfg.MediumModel.Name,
		Synthesis:   cfg.LargeModel.Name,
		Temperature: cfg.Temperature,
	}

	agents := []subagents.Subagent{
		reports.New(a.Reports),
		transcripts.New(a.Transcripts, a.Prompts, models),
	}
	if a.BQ != nil {
		agents = append(agents,
			benchmarking.New(bigquery.NewBenchmarkingRepository(a.BQ), a.Prompts, models),
			sectioned.NewRTS(bigquery.NewSectionRepository(a.BQ, bigquery.TableRTS), a.Prompts, models),
			sectioned.NewPillar3(bigquery.NewSectionRepository(a.BQ, bigquery.TablePillar3), a.Prompts, models),
		)
	}

	return orchestrator.New(orchestrator.Deps{
		Clients:      a.Clients,
		Router:       router.New(a.Prompts, cfg.SmallModel.Name),
		Responder:    response.New(a.Prompts, cfg.LargeModel.Name, cfg.Temperature),
		Clarifier:    clarifier.New(a.Prompts, a.Banks, cfg.MediumModel.Name),
		Planner:      planner.New(a.Prompts, a.Banks, cfg.MediumModel.Name),
		Subagents:    subagents.NewRegistry(agents...),
		Summarizer:   summarizer.New(a.Prompts, cfg.LargeModel.Name, cfg.Temperature),
		HistoryLimit: cfg.HistoryLimit,
	})
}

func (a *App) newGenerators() map[jobs.JobType]etl.Generator {
	cfg := a.Config
	runner := &etl.Runner{Reports: a.Reports, Bucket: cfg.ReportsBucket}
	if a.BQ != nil {
		runner.Ledger = bigquery.NewRunLedger(a.BQ)
	}
	if a.Storage != nil {
		runner.Storage = a.Storage
	}
	opts := etl.Options{
		Model:       cfg.LargeModel.Name,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Concurrency: cfg.ETLConcurrency,
		MaxAttempts: cfg.MaxRetries,
	}

	return map[jobs.JobType]etl.Generator{
		jobs.JobTypeCallSummary:   callsummary.New(runner, a.Banks, a.Transcripts, a.Prompts, opts),
		jobs.JobTypeKeyThemes:     keythemes.New(runner, a.Banks, a.Transcripts, a.Prompts, opts),
		jobs.JobTypeCMReadthrough: cmreadthrough.New(runner, a.Banks, a.Transcripts, a.Prompts, opts),
	}
}

// ETLClient returns the client background jobs run with. Jobs carry no
// caller token, so the configured API key selects the client.
func (a *App) ETLClient() (llm.Client, error) {
	client, err := a.Clients.Get(a.Config.APIKey)
	if err != nil {
		return nil, fmt.Errorf("ETLClient: %w", err)
	}
	return client, nil
}

// JobHandler returns the handler that runs ETL jobs.
func (a *App) JobHandler() (jobs.JobHandler, error) {
	client, err := a.ETLClient()
	if err != nil {
		return nil, err
	}
	return etl.NewJobHandler(client, a.Generators), nil
}

// Close releases every connection.
func (a *App) Close() {
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("Failed to close storage client")
		}
	}
	if a.BQ != nil {
		if err := a.BQ.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("Failed to close BigQuery client")
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
