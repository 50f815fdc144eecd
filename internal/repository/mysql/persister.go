package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/Rrens/secassist/internal/repository/sqlstore"
)

var dialect = sqlstore.Dialect{
	Name: "mysql",
	Schema: `
		CREATE TABLE IF NOT EXISTS chat_state (
			store_key  VARCHAR(191) NOT NULL PRIMARY KEY,
			data       LONGTEXT NOT NULL,
			updated_at DATETIME(6) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	Select: "SELECT data FROM chat_state WHERE store_key = ?",
	Upsert: `
		INSERT INTO chat_state (store_key, data, updated_at)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE data = VALUES(data), updated_at = VALUES(updated_at)`,
}

// Open connects with dsn (go-sql-driver format) and prepares the state table
func Open(ctx context.Context, dsn, key string) (*sqlstore.Persister, error) {
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

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
