// Package sqlite opens the embedded SQLite database that backs the default
// match result cache.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

// Memory is the path of a private in-memory database.
const Memory = ":memory:"

// Pool wraps a single-connection SQLite handle.
type Pool struct {
	db *sql.DB
}

// dsn enables WAL and a busy timeout so that concurrent featmatch processes
// sharing one file wait for each other instead of failing.
func dsn(path string) string {
	if path == Memory || strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Open opens (creating if needed) the database at path, or a private
// in-memory database for Memory.
func Open(path string) (*Pool, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != Memory && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create sqlite dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection also keeps :memory: databases
	// alive and shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	return &Pool{db: db}, nil
}

// DB returns the underlying sql.DB for direct access.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Close closes the database.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing sqlite database: %w", err)
		}
	}
	return nil
}
