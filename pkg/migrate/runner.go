// Package migrate applies the goose SQL migrations shipped with the service.
// Migrations are embedded in the binary; a directory on disk can replace
// them for local authoring.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where migrations live in the source tree.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Source returns the migrations in dir, or the embedded set when dir is empty.
func Source(dir string) (fs.FS, error) {
	if dir == "" {
		return fs.Sub(embedded, "migrations")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return os.DirFS(dir), nil
}

// Runner applies migrations to a Postgres database.
type Runner struct {
	provider *goose.Provider
}

func NewRunner(db *sql.DB, migrations fs.FS) (*Runner, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	return &Runner{provider: provider}, nil
}

// Versions lists every known migration version in order.
func (r *Runner) Versions() []int64 {
	sources := r.provider.ListSources()
	versions := make([]int64, 0, len(sources))
	for _, src := range sources {
		versions = append(versions, src.Version)
	}
	return versions
}

// Up applies every pending migration.
func (r *Runner) Up(ctx context.Context) ([]*goose.MigrationResult, error) {
	return r.provider.Up(ctx)
}

// Down rolls back the most recent migration.
func (r *Runner) Down(ctx context.Context) ([]*goose.MigrationResult, error) {
	result, err := r.provider.Down(ctx)
	if result == nil {
		return nil, err
	}
	return []*goose.MigrationResult{result}, err
}

func (r *Runner) Status(ctx context.Context) ([]*goose.MigrationStatus, error) {
	return r.provider.Status(ctx)
}

// To moves the database up or down until target is the latest applied
// version. It is a no-op when the database is already there.
func (r *Runner) To(ctx context.Context, target int64) ([]*goose.MigrationResult, error) {
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("current version: %w", err)
	}
	switch {
	case current < target:
		return r.provider.UpTo(ctx, target)
	case current > target:
		return r.provider.DownTo(ctx, target)
	default:
		return nil, nil
	}
}
