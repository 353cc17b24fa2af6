// Package store persists provider credentials and the last mobile
// deployment in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Well-known secret names.
const (
	SecretNgrok          = "ngrok"
	SecretVercel         = "vercel"
	SecretGitHub         = "github"
	SecretMobilePassword = "mobile_password"
)

// DB wraps the SQLite database connection.
type DB struct {
	*sql.DB
	path string
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	wrapped := &DB{DB: db, path: path}
	if err := wrapped.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return wrapped, nil
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS secrets (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS deployments (
			id TEXT PRIMARY KEY,
			project_name TEXT NOT NULL,
			repository TEXT NOT NULL,
			branch TEXT DEFAULT 'main',
			deployment_id TEXT DEFAULT '',
			url TEXT DEFAULT '',
			tunnel_id TEXT DEFAULT '',
			public_url TEXT DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_deployments_created ON deployments(created_at)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// DefaultPath returns the database path inside dataDir, defaulting to
// ~/.local/share/athena.
func DefaultPath(dataDir string) string {
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share", "athena")
	}
	return filepath.Join(dataDir, "athena.db")
}

// Secret returns the stored value for name, or "" when absent.
func (db *DB) Secret(ctx context.Context, name string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query secret: %w", err)
	}
	return value, nil
}

// SetSecret inserts or replaces a secret.
func (db *DB) SetSecret(ctx context.Context, name, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO secrets (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, name, value, time.Now())
	if err != nil {
		return fmt.Errorf("save secret: %w", err)
	}
	return nil
}

// DeleteSecret removes a secret. Missing secrets are ignored.
func (db *DB) DeleteSecret(ctx context.Context, name string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM secrets WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	return nil
}
