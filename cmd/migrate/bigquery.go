package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	infraBQ "github.com/dvloznov/aegis/internal/infra/bigquery"
)

// BigQueryTarget migrates the Aegis BigQuery dataset, creating it when
// missing.
type BigQueryTarget struct {
	client *infraBQ.Client
}

// NewBigQueryTarget opens a client for project and dataset.
func NewBigQueryTarget(ctx context.Context, project, dataset string) (*BigQueryTarget, error) {
	client, err := infraBQ.NewClient(ctx, project, dataset)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryTarget: %w", err)
	}
	return &BigQueryTarget{client: client}, nil
}

func (t *BigQueryTarget) migrationsTable() string {
	bq := t.client.BigQuery()
	return fmt.Sprintf("`%s.%s.schema_migrations`", bq.Project(), t.client.Dataset())
}

// EnsureMigrationsTable implements Target.
func (t *BigQueryTarget) EnsureMigrationsTable(ctx context.Context) error {
	ds := t.client.BigQuery().Dataset(t.client.Dataset())
	if _, err := ds.Metadata(ctx); err != nil {
		var apiErr *googleapi.Error
		if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
			return fmt.Errorf("reading dataset: %w", err)
		}
		if err := ds.Create(ctx, &bigquery.DatasetMetadata{}); err != nil {
			return fmt.Errorf("creating dataset: %w", err)
		}
	}

	return t.run(ctx, t.client.BigQuery().Query(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version    INT64 NOT NULL,
			name       STRING NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			checksum   STRING,
			applied_by STRING
		)
	`, t.migrationsTable())))
}

// Applied implements Target.
func (t *BigQueryTarget) Applied(ctx context.Context) ([]AppliedMigration, error) {
	it, err := t.client.BigQuery().Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, t.migrationsTable())).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64               `bigquery:"version"`
			Name      string              `bigquery:"name"`
			AppliedAt time.Time           `bigquery:"applied_at"`
			Checksum  bigquery.NullString `bigquery:"checksum"`
			AppliedBy bigquery.NullString `bigquery:"applied_by"`
		}
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}
		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

// Apply implements Target. BigQuery DDL is not transactional, so a failed
// migration is left unrecorded and must be idempotent to rerun.
func (t *BigQueryTarget) Apply(ctx context.Context, m Migration, appliedBy string) error {
	bq := t.client.BigQuery()
	if err := t.run(ctx, bq.Query(m.SQL)); err != nil {
		return fmt.Errorf("executing: %w", err)
	}

	q := bq.Query(fmt.Sprintf(`
		INSERT INTO %s (version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, t.migrationsTable()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}
	if err := t.run(ctx, q); err != nil {
		return fmt.Errorf("recording: %w", err)
	}
	return nil
}

func (t *BigQueryTarget) run(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	return status.Err()
}

// Close implements Target.
func (t *BigQueryTarget) Close() error {
	return t.client.Close()
}
