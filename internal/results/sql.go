package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/featmatch/internal/feature"
)

// Dialect holds the statements of one SQL backend. All values are bound
// through placeholders.
type Dialect struct {
	Name string
	// Schema is executed by Init; empty when the schema is managed by
	// migrations.
	Schema string
	Lookup string
	Insert string
	List   string
	Count  string
}

// SQLite uses the match.sqlite3 column layout (file1, file2, max_nn_chks,
// ratio_thr, m), keyed by key hash.
var SQLite = Dialect{
	Name: "sqlite",
	Schema: `CREATE TABLE IF NOT EXISTS matches (
		key_hash    TEXT PRIMARY KEY,
		file1       TEXT NOT NULL,
		file2       TEXT NOT NULL,
		max_nn_chks INTEGER NOT NULL,
		ratio_thr   TEXT NOT NULL,
		m           INTEGER NOT NULL,
		created_at  INTEGER NOT NULL
	)`,
	Lookup: `SELECT file1, file2, max_nn_chks, ratio_thr, m FROM matches WHERE key_hash = ?`,
	Insert: `INSERT OR IGNORE INTO matches (key_hash, file1, file2, max_nn_chks, ratio_thr, m, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
	List:  `SELECT file1, file2, max_nn_chks, ratio_thr, m, created_at FROM matches ORDER BY created_at DESC, key_hash LIMIT ?`,
	Count: `SELECT COUNT(*) FROM matches`,
}

// Postgres relies on the embedded migrations of the postgres storage package.
var Postgres = Dialect{
	Name:   "postgres",
	Lookup: `SELECT file1, file2, max_nn_chks, ratio_thr, m FROM matches WHERE key_hash = $1`,
	Insert: `INSERT INTO matches (key_hash, file1, file2, max_nn_chks, ratio_thr, m, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (key_hash) DO NOTHING`,
	List:  `SELECT file1, file2, max_nn_chks, ratio_thr, m, created_at FROM matches ORDER BY created_at DESC, key_hash LIMIT $1`,
	Count: `SELECT COUNT(*) FROM matches`,
}

// MySQL works for MySQL and MariaDB.
var MySQL = Dialect{
	Name: "mysql",
	Schema: `CREATE TABLE IF NOT EXISTS matches (
		key_hash    CHAR(64) NOT NULL PRIMARY KEY,
		file1       TEXT NOT NULL,
		file2       TEXT NOT NULL,
		max_nn_chks INT NOT NULL,
		ratio_thr   VARCHAR(32) NOT NULL,
		m           INT NOT NULL,
		created_at  BIGINT NOT NULL
	)`,
	Lookup: `SELECT file1, file2, max_nn_chks, ratio_thr, m FROM matches WHERE key_hash = ?`,
	Insert: `INSERT IGNORE INTO matches (key_hash, file1, file2, max_nn_chks, ratio_thr, m, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
	List:  `SELECT file1, file2, max_nn_chks, ratio_thr, m, created_at FROM matches ORDER BY created_at DESC, key_hash LIMIT ?`,
	Count: `SELECT COUNT(*) FROM matches`,
}

// SQLStore is a Store on a database/sql handle.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// Init creates the matches table when the dialect manages its own schema.
func (s *SQLStore) Init(ctx context.Context) error {
	if s.dialect.Schema == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.Schema); err != nil {
		return unavailable("create matches table", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", feature.ErrCacheUnavailable, op, err)
}

// Lookup returns the stored count for key. A row whose columns disagree with
// the key or whose count is negative is reported as corrupt.
func (s *SQLStore) Lookup(ctx context.Context, key feature.QueryKey) (int, bool, error) {
	var (
		file1, file2, ratio string
		checks, m           int
	)
	err := s.db.QueryRowContext(ctx, s.dialect.Lookup, key.Hash()).Scan(&file1, &file2, &checks, &ratio, &m)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("lookup match", err)
	}

	if file1 != key.ImageA || file2 != key.ImageB || checks != key.MaxNNChecks || ratio != key.RatioText() {
		return 0, false, fmt.Errorf("%w: stored row for %s belongs to another key", feature.ErrCorruptCacheEntry, key)
	}
	if m < 0 {
		return 0, false, fmt.Errorf("%w: negative count %d for %s", feature.ErrCorruptCacheEntry, m, key)
	}
	return m, true, nil
}

// Store inserts the count unless the key already exists.
func (s *SQLStore) Store(ctx context.Context, key feature.QueryKey, count int) error {
	if count < 0 {
		return fmt.Errorf("%w: negative match count %d", feature.ErrInvalidInput, count)
	}
	_, err := s.db.ExecContext(ctx, s.dialect.Insert,
		key.Hash(), key.ImageA, key.ImageB, key.MaxNNChecks, key.RatioText(), count, s.now().Unix())
	if err != nil {
		return unavailable("store match", err)
	}
	return nil
}

// List returns up to limit records, newest first.
func (s *SQLStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.List, limit)
	if err != nil {
		return nil, unavailable("list matches", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec     Record
			ratio   string
			created int64
		)
		if err := rows.Scan(&rec.Key.ImageA, &rec.Key.ImageB, &rec.Key.MaxNNChecks, &ratio, &rec.Count, &created); err != nil {
			return nil, unavailable("scan match", err)
		}
		if rec.Key.RatioThreshold, err = feature.ParseRatio(ratio); err != nil {
			return nil, err
		}
		rec.CreatedAt = time.Unix(created, 0).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate matches", err)
	}
	return records, nil
}

// Len returns the number of stored records.
func (s *SQLStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.dialect.Count).Scan(&n); err != nil {
		return 0, unavailable("count matches", err)
	}
	return n, nil
}
