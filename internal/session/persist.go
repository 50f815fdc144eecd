package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Rrens/secassist/internal/domain"
)

// State is the unit of persistence: every session plus the active id
type State = domain.Snapshot

// DefaultStoreKey names the persisted state in keyed backends
const DefaultStoreKey = "default"

// Persister loads and saves the whole session state
type Persister interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
	Close() error
}

// Pinger is implemented by persisters backed by a remote service
type Pinger interface {
	Ping(ctx context.Context) error
}

// document is the serialized form shared by blob-based backends
type document struct {
	Version         int                  `json:"version"`
	Sessions        []domain.ChatSession `json:"sessions"`
	ActiveSessionID string               `json:"activeSessionId,omitempty"`
}

const documentVersion = 1

// Marshal encodes state for blob-based backends
func Marshal(state State) ([]byte, error) {
	data, err := json.Marshal(document{
		Version:         documentVersion,
		Sessions:        state.Sessions,
		ActiveSessionID: state.ActiveSessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sessions: %w", err)
	}
	return data, nil
}

// Unmarshal decodes and normalizes state written by Marshal
func Unmarshal(data []byte) (State, error) {
	if len(data) == 0 {
		return State{}, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return State{}, fmt.Errorf("failed to unmarshal sessions: %w", err)
	}
	return Normalize(State{Sessions: doc.Sessions, ActiveSessionID: doc.ActiveSessionID}), nil
}

// Normalize repairs loaded sessions and drops an active id that no longer exists
func Normalize(state State) State {
	state.Sessions = domain.NormalizeSessions(state.Sessions)
	found := false
	for _, s := range state.Sessions {
		if s.ID == state.ActiveSessionID {
			found = true
			break
		}
	}
	if !found {
		state.ActiveSessionID = ""
		if len(state.Sessions) > 0 {
			state.ActiveSessionID = state.Sessions[0].ID
		}
	}
	return state
}

// MemoryPersister keeps state in process; used for tests and ephemeral runs
type MemoryPersister struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

// NewMemoryPersister creates an empty in-memory persister
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

func (m *MemoryPersister) Load(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Unmarshal(m.data)
}

func (m *MemoryPersister) Save(ctx context.Context, state State) error {
	data, err := Marshal(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.saves++
	return nil
}

// Saves returns how many times Save succeeded
func (m *MemoryPersister) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryPersister) Close() error { return nil }

// FilePersister stores state as a JSON file, replaced atomically on save
type FilePersister struct {
	path string
	mu   sync.Mutex
}

// NewFilePersister creates a persister writing to path, creating parent dirs
func NewFilePersister(path string) (*FilePersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FilePersister{path: path}, nil
}

func (f *FilePersister) Load(ctx context.Context) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read state file: %w", err)
	}
	return Unmarshal(data)
}

func (f *FilePersister) Save(ctx context.Context, state State) error {
	data, err := Marshal(state)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".sessions-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func (f *FilePersister) Close() error { return nil }
