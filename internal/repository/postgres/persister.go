package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/secassist/internal/session"
)

// Persister keeps session state as a JSONB document in chat_state
type Persister struct {
	db  *DB
	key string
}

var (
	_ session.Persister = (*Persister)(nil)
	_ session.Pinger    = (*Persister)(nil)
)

// NewPersister ensures the chat_state table exists and returns a persister for key
func NewPersister(ctx context.Context, db *DB, key string) (*Persister, error) {
	if key == "" {
		key = session.DefaultStoreKey
	}
	query := `
		CREATE TABLE IF NOT EXISTS chat_state (
			store_key  TEXT PRIMARY KEY,
			data       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := db.Pool.Exec(ctx, query); err != nil {
		return nil, fmt.Errorf("failed to create chat_state table: %w", err)
	}
	return &Persister{db: db, key: key}, nil
}

func (p *Persister) Load(ctx context.Context) (session.State, error) {
	query := `SELECT data FROM chat_state WHERE store_key = $1`

	var data []byte
	err := p.db.Pool.QueryRow(ctx, query, p.key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.State{}, nil
	}
	if err != nil {
		return session.State{}, fmt.Errorf("failed to load sessions: %w", err)
	}
	return session.Unmarshal(data)
}

func (p *Persister) Save(ctx context.Context, state session.State) error {
	data, err := session.Marshal(state)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO chat_state (store_key, data, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (store_key) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`
	if _, err := p.db.Pool.Exec(ctx, query, p.key, data, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save sessions: %w", err)
	}
	log.Debug().Str("backend", "postgres").Int("sessions", len(state.Sessions)).Msg("Sessions saved")
	return nil
}

func (p *Persister) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

func (p *Persister) Close() error {
	p.db.Close()
	return nil
}
