package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/secassist/internal/session"
)

const statePrefix = "secassist:state:"

// Persister stores session state as one JSON value per store key. The
// client is shared with the rate limiter and is closed by its owner.
type Persister struct {
	client *Client
	key    string
}

var (
	_ session.Persister = (*Persister)(nil)
	_ session.Pinger    = (*Persister)(nil)
)

// NewPersister creates a persister for key
func NewPersister(client *Client, key string) *Persister {
	if key == "" {
		key = session.DefaultStoreKey
	}
	return &Persister{client: client, key: statePrefix + key}
}

func (p *Persister) Load(ctx context.Context) (session.State, error) {
	data, err := p.client.rdb.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
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
	if err := p.client.rdb.Set(ctx, p.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save sessions: %w", err)
	}
	log.Debug().Str("backend", "redis").Int("sessions", len(state.Sessions)).Msg("Sessions saved")
	return nil
}

func (p *Persister) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *Persister) Close() error {
	return nil
}
