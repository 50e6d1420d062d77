package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/aegis/internal/logger"
)

// Migration is one migration file.
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Target is a database migrations run against.
type Target interface {
	EnsureMigrationsTable(ctx context.Context) error
	Applied(ctx context.Context) ([]AppliedMigration, error)
	// Apply runs the migration and records it.
	Apply(ctx context.Context, m Migration, appliedBy string) error
	Close() error
}

// Placeholders are substituted into BigQuery migrations.
type Placeholders struct {
	ProjectID string
	DatasetID string
}

var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// ParseFilename returns the version and name of a migration file name.
func ParseFilename(filename string) (int, string, bool) {
	m := migrationPattern.FindStringSubmatch(filename)
	if m == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return version, m[2], true
}

// Checksum hashes the file content before placeholder substitution, so the
// same migration matches across projects and datasets.
func Checksum(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

// ReadMigrations reads dir, falling back to ../../dir when run from
// cmd/migrate, and returns its migrations sorted by version.
func ReadMigrations(dir string, ph Placeholders) ([]Migration, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		parent := filepath.Join("..", "..", dir)
		if _, err := os.Stat(parent); os.IsNotExist(err) {
			return nil, fmt.Errorf("migrations directory not found: %s", dir)
		}
		dir = parent
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var out []Migration
	seen := map[int]string{}
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		version, name, ok := ParseFilename(file.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %04d: %s and %s", version, prev, file.Name())
		}
		seen[version] = file.Name()

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", file.Name(), err)
		}

		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", ph.ProjectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", ph.DatasetID)

		out = append(out, Migration{
			Version:  version,
			Name:     name,
			Filename: file.Name(),
			SQL:      sql,
			Checksum: Checksum(content),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Pending returns the migrations not yet applied. A changed checksum on an
// applied migration is an error.
func Pending(migrations []Migration, applied []AppliedMigration) ([]Migration, error) {
	done := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		done[am.Version] = am
	}

	var pending []Migration
	for _, m := range migrations {
		am, ok := done[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if am.Checksum != "" && am.Checksum != m.Checksum {
			return nil, fmt.Errorf("migration %04d_%s changed after it was applied", m.Version, m.Name)
		}
	}
	return pending, nil
}

// Migrate applies the pending migrations in order and returns how many ran.
func Migrate(ctx context.Context, db Target, migrations []Migration, appliedBy string, dryRun bool) (int, error) {
	log := logger.FromContext(ctx)

	if err := db.EnsureMigrationsTable(ctx); err != nil {
		return 0, fmt.Errorf("Migrate: ensure schema_migrations: %w", err)
	}
	applied, err := db.Applied(ctx)
	if err != nil {
		return 0, fmt.Errorf("Migrate: read applied: %w", err)
	}
	pending, err := Pending(migrations, applied)
	if err != nil {
		return 0, fmt.Errorf("Migrate: %w", err)
	}

	for i, m := range pending {
		if dryRun {
			log.Info().Str("migration", m.Filename).Msg("Pending")
			continue
		}
		log.Info().Str("migration", m.Filename).Msg("Applying")
		if err := db.Apply(ctx, m, appliedBy); err != nil {
			return i, fmt.Errorf("Migrate: %s: %w", m.Filename, err)
		}
	}
	return len(pending), nil
}
