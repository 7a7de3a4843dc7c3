package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where migrations live in the source tree. Binaries read the
// embedded copy; the on-disk path is only used by create and validate.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Embedded returns the migrations compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Source picks the migration filesystem: the embedded set when dir is empty,
// otherwise the directory on disk.
func Source(dir string) fs.FS {
	if dir == "" {
		return Embedded()
	}
	return os.DirFS(dir)
}

// Migrator applies goose migrations against Postgres.
type Migrator struct {
	provider *goose.Provider
}

// New builds a migrator over fsys.
func New(db *sql.DB, fsys fs.FS) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if fsys == nil {
		return nil, fmt.Errorf("migration source is required")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Migrator{provider: provider}, nil
}

// Result is one applied or rolled back migration.
type Result struct {
	Version   int64
	Path      string
	Direction string
	Duration  string
}

// Status is the applied state of a single migration.
type Status struct {
	Version int64
	Path    string
	State   string
}

func (m *Migrator) Up(ctx context.Context) ([]Result, error) {
	results, err := m.provider.Up(ctx)
	if err != nil {
		return toResults(results), fmt.Errorf("goose up: %w", err)
	}
	return toResults(results), nil
}

func (m *Migrator) Down(ctx context.Context) ([]Result, error) {
	result, err := m.provider.Down(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose down: %w", err)
	}
	return toResults([]*goose.MigrationResult{result}), nil
}

func (m *Migrator) Status(ctx context.Context) ([]Status, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}
	out := make([]Status, 0, len(statuses))
	for _, s := range statuses {
		if s == nil || s.Source == nil {
			continue
		}
		out = append(out, Status{Version: s.Source.Version, Path: s.Source.Path, State: string(s.State)})
	}
	return out, nil
}

// MigrateTo moves the schema up or down until targetVersion is current.
func (m *Migrator) MigrateTo(ctx context.Context, targetVersion string) ([]Result, error) {
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}
	current, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("get db version: %w", err)
	}
	switch {
	case current == target:
		return nil, nil
	case current < target:
		results, err := m.provider.UpTo(ctx, target)
		if err != nil {
			return toResults(results), fmt.Errorf("goose up-to %d: %w", target, err)
		}
		return toResults(results), nil
	default:
		results, err := m.provider.DownTo(ctx, target)
		if err != nil {
			return toResults(results), fmt.Errorf("goose down-to %d: %w", target, err)
		}
		return toResults(results), nil
	}
}

func toResults(in []*goose.MigrationResult) []Result {
	out := make([]Result, 0, len(in))
	for _, r := range in {
		if r == nil || r.Source == nil {
			continue
		}
		out = append(out, Result{
			Version:   r.Source.Version,
			Path:      r.Source.Path,
			Direction: r.Direction,
			Duration:  r.Duration.String(),
		})
	}
	return out
}
