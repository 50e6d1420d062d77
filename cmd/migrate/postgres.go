package main

import (
	"context"
	"fmt"

	"github.com/dvloznov/aegis/internal/infra/postgres"
)

// TxQuerier is a Querier that can run a transaction.
type TxQuerier interface {
	postgres.Querier
	WithTx(ctx context.Context, fn func(q postgres.Querier) error) error
}

// PostgresTarget migrates the Aegis Postgres database. Each migration runs
// in a transaction together with its schema_migrations row.
type PostgresTarget struct {
	db    TxQuerier
	close func()
}

// NewPostgresTarget connects to dsn.
func NewPostgresTarget(ctx context.Context, dsn string) (*PostgresTarget, error) {
	pool, err := postgres.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresTarget: %w", err)
	}
	return &PostgresTarget{db: pool, close: pool.Close}, nil
}

// EnsureMigrationsTable implements Target.
func (t *PostgresTarget) EnsureMigrationsTable(ctx context.Context) error {
	_, err := t.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			checksum   TEXT,
			applied_by TEXT
		)`)
	return err
}

// Applied implements Target.
func (t *PostgresTarget) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := t.db.Query(ctx, `
		SELECT version, name, applied_at, COALESCE(checksum, ''), COALESCE(applied_by, '')
		FROM schema_migrations
		ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var am AppliedMigration
		if err := rows.Scan(&am.Version, &am.Name, &am.AppliedAt, &am.Checksum, &am.AppliedBy); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, am)
	}
	return out, rows.Err()
}

// Apply implements Target.
func (t *PostgresTarget) Apply(ctx context.Context, m Migration, appliedBy string) error {
	return t.db.WithTx(ctx, func(q postgres.Querier) error {
		if _, err := q.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("executing: %w", err)
		}
		_, err := q.Exec(ctx, `
			INSERT INTO schema_migrations (version, name, checksum, applied_by)
			VALUES ($1, $2, $3, $4)`,
			m.Version, m.Name, m.Checksum, appliedBy)
		if err != nil {
			return fmt.Errorf("recording: %w", err)
		}
		return nil
	})
}

// Close implements Target.
func (t *PostgresTarget) Close() error {
	if t.close != nil {
		t.close()
	}
	return nil
}
