package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/user"

	"github.com/joho/godotenv"

	"github.com/dvloznov/aegis/internal/logger"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to read .env: %v\n", err)
	}

	var (
		target        = flag.String("target", "postgres", "Database to migrate: postgres or bigquery")
		dsn           = flag.String("dsn", os.Getenv("AEGIS_POSTGRES_DSN"), "Postgres connection string")
		projectID     = flag.String("project", os.Getenv("AEGIS_BIGQUERY_PROJECT"), "GCP project ID")
		datasetID     = flag.String("dataset", envOr("AEGIS_BIGQUERY_DATASET", "aegis"), "BigQuery dataset ID")
		appliedBy     = flag.String("applied-by", defaultAppliedBy(), "Name recorded against applied migrations")
		migrationsDir = flag.String("migrations", "", "Migrations directory (default migrations/<target>)")
		dryRun        = flag.Bool("dry-run", false, "List pending migrations without applying them")
	)
	flag.Parse()

	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	dir := *migrationsDir
	if dir == "" {
		dir = "migrations/" + *target
	}

	var (
		db  Target
		err error
	)
	switch *target {
	case "postgres":
		if *dsn == "" {
			log.Fatal().Msg("A Postgres DSN is required (-dsn or AEGIS_POSTGRES_DSN)")
		}
		db, err = NewPostgresTarget(ctx, *dsn)
	case "bigquery":
		if *projectID == "" {
			log.Fatal().Msg("A GCP project is required (-project or AEGIS_BIGQUERY_PROJECT)")
		}
		db, err = NewBigQueryTarget(ctx, *projectID, *datasetID)
	default:
		log.Fatal().Str("target", *target).Msg("Unknown migration target")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer db.Close()

	migrations, err := ReadMigrations(dir, Placeholders{ProjectID: *projectID, DatasetID: *datasetID})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}
	log.Info().Str("target", *target).Int("count", len(migrations)).Msg("Found migration files")

	applied, err := Migrate(ctx, db, migrations, *appliedBy, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	if applied == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("applied", applied).Bool("dry_run", *dryRun).Msg("Migrations applied")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultAppliedBy() string {
	if u, err := user.Current(); err == nil {
		return "migrate:" + u.Username
	}
	return "migrate"
}
