package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Rrens/secassist/internal/config"
	"github.com/Rrens/secassist/internal/session"
)

// stateDocument is one persisted state, keyed by store key. The session list
// is kept as the shared JSON encoding so every backend stores the same shape.
type stateDocument struct {
	Key       string    `bson:"_id"`
	Data      string    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Persister stores session state in a MongoDB collection
type Persister struct {
	client *mongo.Client
	coll   *mongo.Collection
	key    string
}

var (
	_ session.Persister = (*Persister)(nil)
	_ session.Pinger    = (*Persister)(nil)
)

// Open connects to cfg.URI and returns a persister for key
func Open(ctx context.Context, cfg config.MongoConfig, key string) (*Persister, error) {
	if key == "" {
		key = session.DefaultStoreKey
	}

	clientOpts := options.Client().ApplyURI(cfg.URI)
	if cfg.Timeout > 0 {
		clientOpts.SetConnectTimeout(cfg.Timeout)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	return &Persister{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		key:    key,
	}, nil
}

func (p *Persister) Load(ctx context.Context) (session.State, error) {
	var doc stateDocument
	err := p.coll.FindOne(ctx, bson.M{"_id": p.key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return session.State{}, nil
	}
	if err != nil {
		return session.State{}, fmt.Errorf("failed to load sessions: %w", err)
	}
	return session.Unmarshal([]byte(doc.Data))
}

func (p *Persister) Save(ctx context.Context, state session.State) error {
	data, err := session.Marshal(state)
	if err != nil {
		return err
	}

	doc := stateDocument{Key: p.key, Data: string(data), UpdatedAt: time.Now().UTC()}
	opts := options.Replace().SetUpsert(true)
	if _, err := p.coll.ReplaceOne(ctx, bson.M{"_id": p.key}, doc, opts); err != nil {
		return fmt.Errorf("failed to save sessions: %w", err)
	}
	log.Debug().Str("backend", "mongo").Int("sessions", len(state.Sessions)).Msg("Sessions saved")
	return nil
}

func (p *Persister) Ping(ctx context.Context) error {
	return p.client.Ping(ctx, nil)
}

func (p *Persister) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.client.Disconnect(ctx)
}
