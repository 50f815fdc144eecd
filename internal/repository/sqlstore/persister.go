// Package sqlstore persists session state as a JSON blob in a database/sql table
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/secassist/internal/session"
)

// Dialect holds the statements that differ between SQL engines
type Dialect struct {
	Name   string
	Schema string
	Select string
	Upsert string
}

// Persister implements session.Persister over a *sql.DB
type Persister struct {
	db      *sql.DB
	key     string
	dialect Dialect
}

var (
	_ session.Persister = (*Persister)(nil)
	_ session.Pinger    = (*Persister)(nil)
)

// New creates the state table if needed and returns a persister for key
func New(ctx context.Context, db *sql.DB, dialect Dialect, key string) (*Persister, error) {
	if key == "" {
		key = session.DefaultStoreKey
	}
	if _, err := db.ExecContext(ctx, dialect.Schema); err != nil {
		return nil, fmt.Errorf("failed to create %s schema: %w", dialect.Name, err)
	}
	return &Persister{db: db, key: key, dialect: dialect}, nil
}

func (p *Persister) Load(ctx context.Context) (session.State, error) {
	var data string
	err := p.db.QueryRowContext(ctx, p.dialect.Select, p.key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return session.State{}, nil
	}
	if err != nil {
		return session.State{}, fmt.Errorf("failed to load sessions: %w", err)
	}
	return session.Unmarshal([]byte(data))
}

func (p *Persister) Save(ctx context.Context, state session.State) error {
	data, err := session.Marshal(state)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, p.dialect.Upsert, p.key, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save sessions: %w", err)
	}
	log.Debug().Str("backend", p.dialect.Name).Int("sessions", len(state.Sessions)).Msg("Sessions saved")
	return nil
}

func (p *Persister) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Persister) Close() error {
	return p.db.Close()
}
