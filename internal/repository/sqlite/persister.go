package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/Rrens/secassist/internal/repository/sqlstore"
)

var dialect = sqlstore.Dialect{
	Name: "sqlite",
	Schema: `
		CREATE TABLE IF NOT EXISTS chat_state (
			store_key  TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	Select: `SELECT data FROM chat_state WHERE store_key = ?`,
	Upsert: `
		INSERT INTO chat_state (store_key, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(store_key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
}

// Open opens (creating if needed) the database file at path
func Open(ctx context.Context, path, key string) (*sqlstore.Persister, error) {
	if path == "" {
		return nil, fmt.Errorf("database file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p, err := sqlstore.New(ctx, db, dialect, key)
	if err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}
