// Package repository selects the session persister named by configuration
package repository

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/secassist/internal/config"
	"github.com/Rrens/secassist/internal/repository/mongo"
	"github.com/Rrens/secassist/internal/repository/mysql"
	"github.com/Rrens/secassist/internal/repository/postgres"
	"github.com/Rrens/secassist/internal/repository/redis"
	"github.com/Rrens/secassist/internal/repository/sqlite"
	"github.com/Rrens/secassist/internal/session"
)

// OpenPersister connects the backend in cfg.Backend. The redis backend
// reuses redisClient, which must be non-nil for it.
func OpenPersister(ctx context.Context, cfg config.StorageConfig, redisClient *redis.Client) (session.Persister, error) {
	log.Info().Str("backend", cfg.Backend).Msg("Opening session storage")

	switch cfg.Backend {
	case config.BackendMemory:
		return session.NewMemoryPersister(), nil
	case config.BackendFile:
		return session.NewFilePersister(cfg.File.Path)
	case config.BackendSQLite, "":
		return sqlite.Open(ctx, cfg.SQLite.Path, cfg.Key)
	case config.BackendPostgres:
		db, err := postgres.NewDB(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		p, err := postgres.NewPersister(ctx, db, cfg.Key)
		if err != nil {
			db.Close()
			return nil, err
		}
		return p, nil
	case config.BackendMySQL:
		return mysql.Open(ctx, cfg.MySQL.DSN, cfg.Key)
	case config.BackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis storage backend requires a redis client")
		}
		return redis.NewPersister(redisClient, cfg.Key), nil
	case config.BackendMongo:
		return mongo.Open(ctx, cfg.Mongo, cfg.Key)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
