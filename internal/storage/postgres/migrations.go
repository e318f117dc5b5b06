package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// migrationLock is the advisory lock key serializing schema changes between
// processes sharing one database.
const migrationLock = 0x66656174

// migration is one numbered schema step, e.g. migrations/002_descriptors.sql.
type migration struct {
	version int
	name    string
	body    string
}

// parseMigrationName splits "002_descriptors.sql" into 2 and "descriptors".
func parseMigrationName(file string) (int, string, error) {
	base, ok := strings.CutSuffix(file, ".sql")
	if !ok {
		return 0, "", fmt.Errorf("migration %s: not an .sql file", file)
	}
	num, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("migration %s: expected <version>_<name>.sql", file)
	}
	version, err := strconv.Atoi(num)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("migration %s: invalid version %q", file, num)
	}
	return version, name, nil
}

// loadMigrations reads every .sql file under dir, ordered by version.
func loadMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version, name, err := parseMigrationName(e.Name())
		if err != nil {
			return nil, err
		}
		body, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", e.Name(), err)
		}
		out = append(out, migration{version: version, name: name, body: string(body)})
	}

	slices.SortFunc(out, func(a, b migration) int { return a.version - b.version })
	for i := 1; i < len(out); i++ {
		if out[i].version == out[i-1].version {
			return nil, fmt.Errorf("duplicate migration version %d (%s, %s)", out[i].version, out[i-1].name, out[i].name)
		}
	}
	return out, nil
}

// Migrate brings the schema up to date. Each step runs in its own
// transaction holding an advisory lock, so concurrent starters apply it once.
func (p *Pool) Migrate(ctx context.Context) error {
	steps, err := loadMigrations(schemaFS, "migrations")
	if err != nil {
		return err
	}

	if _, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_versions (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at BIGINT NOT NULL
		)`); err != nil {
		return fmt.Errorf("creating schema_versions: %w", err)
	}

	for _, step := range steps {
		applied, err := p.applyMigration(ctx, step)
		if err != nil {
			return fmt.Errorf("migration %03d_%s: %w", step.version, step.name, err)
		}
		if applied {
			p.logger.InfoContext(ctx, "applied migration", "version", step.version, "name", step.name)
		}
	}
	return nil
}

func (p *Pool) applyMigration(ctx context.Context, step migration) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLock); err != nil {
		return false, fmt.Errorf("acquiring lock: %w", err)
	}

	var one int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM schema_versions WHERE version = $1", step.version).Scan(&one)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return false, err
	}

	if _, err := tx.ExecContext(ctx, step.body); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_versions (version, name, applied_at) VALUES ($1, $2, $3)",
		step.version, step.name, time.Now().Unix()); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// MigrationsApplied lists applied migrations as "<version>_<name>", oldest
// first.
func (p *Pool) MigrationsApplied(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT version, name FROM schema_versions ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var (
			version int
			name    string
		)
		if err := rows.Scan(&version, &name); err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("%03d_%s", version, name))
	}
	return out, rows.Err()
}
