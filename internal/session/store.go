package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/secassist/internal/domain"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrPendingConflict = errors.New("session already has a pending message")
	ErrStoreClosed     = errors.New("session store closed")
)

const (
	// DefaultFlushDelay bounds how long streamed fragments stay unpersisted
	DefaultFlushDelay = 250 * time.Millisecond

	defaultSaveTimeout = 10 * time.Second
)

// Options configures a Store
type Options struct {
	FlushDelay  time.Duration
	SaveTimeout time.Duration
	Now         func() time.Time
	NewID       func() string
}

// Store owns every chat session. All mutations go through it; observers
// receive a fresh snapshot after each one.
type Store struct {
	mu       sync.Mutex
	sessions []domain.ChatSession
	activeID string
	version  uint64
	closed   bool

	subs    map[int]*subscriber
	nextSub int

	persister  Persister
	saveMu     sync.Mutex
	saved      uint64
	dirty      bool
	flushTimer *time.Timer

	flushDelay  time.Duration
	saveTimeout time.Duration
	now         func() time.Time
	newID       func() string
}

// NewStore loads persisted state and returns a ready store
func NewStore(ctx context.Context, persister Persister, opts Options) (*Store, error) {
	if persister == nil {
		persister = NewMemoryPersister()
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = DefaultFlushDelay
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = defaultSaveTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}

	state, err := persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	state = Normalize(state)

	log.Info().
		Int("sessions", len(state.Sessions)).
		Str("active_session", state.ActiveSessionID).
		Msg("Session store loaded")

	return &Store{
		sessions:    state.Sessions,
		activeID:    state.ActiveSessionID,
		subs:        make(map[int]*subscriber),
		persister:   persister,
		flushDelay:  opts.FlushDelay,
		saveTimeout: opts.SaveTimeout,
		now:         opts.Now,
		newID:       opts.NewID,
	}, nil
}

// Create adds a new session and makes it active
func (s *Store) Create(t domain.SessionType, title string, metadata map[string]any) domain.ChatSession {
	if t != domain.SessionTypeFix {
		t = domain.SessionTypeQA
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = domain.DefaultSessionTitle
		if t == domain.SessionTypeFix {
			title = "Fix Session"
		}
	}

	s.mu.Lock()
	sess := domain.NewSession(s.newID(), t, title, metadata, s.now())
	s.sessions = append([]domain.ChatSession{sess}, s.sessions...)
	s.activeID = sess.ID
	state := s.commitLocked()
	s.mu.Unlock()

	s.persist(state)
	return sess.Clone()
}

// Delete removes a session. When it was active, the most recently updated
// remaining session becomes active.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx == -1 {
		s.mu.Unlock()
		return false
	}

	s.sessions = append(s.sessions[:idx:idx], s.sessions[idx+1:]...)
	if s.activeID == id {
		s.activeID = s.mostRecentLocked()
	}
	state := s.commitLocked()
	s.mu.Unlock()

	s.persist(state)
	return true
}

// SetActive selects a session. Unknown ids are rejected without mutation.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	if s.indexLocked(id) == -1 {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	if s.activeID == id {
		s.mu.Unlock()
		return nil
	}
	s.activeID = id
	state := s.commitLocked()
	s.mu.Unlock()

	s.persist(state)
	return nil
}

// AddMessage appends a message, assigning its id and timestamp. A second
// pending message in the same session is refused.
func (s *Store) AddMessage(sessionID string, in domain.MessageInput) (domain.ChatMessage, bool) {
	s.mu.Lock()
	idx := s.indexLocked(sessionID)
	if idx == -1 {
		s.mu.Unlock()
		return domain.ChatMessage{}, false
	}

	sess := &s.sessions[idx]
	if in.Pending && sess.PendingMessage() != -1 {
		s.mu.Unlock()
		log.Warn().Err(ErrPendingConflict).Str("session_id", sessionID).Msg("Refusing pending message")
		return domain.ChatMessage{}, false
	}

	now := s.now()
	msg := domain.ChatMessage{
		ID:        s.newID(),
		Role:      in.Role,
		Content:   in.Content,
		CreatedAt: now,
		Pending:   in.Pending,
		Metadata:  cloneMetadata(in.Metadata),
	}

	msgs := make([]domain.ChatMessage, len(sess.Messages), len(sess.Messages)+1)
	copy(msgs, sess.Messages)
	sess.Messages = append(msgs, msg)
	sess.UpdatedAt = now
	state := s.commitLocked()
	s.mu.Unlock()

	s.persist(state)
	return msg.Clone(), true
}

// UpdateMessage replaces the given fields of a message
func (s *Store) UpdateMessage(sessionID, messageID string, upd domain.MessageUpdate) bool {
	s.mu.Lock()
	idx := s.indexLocked(sessionID)
	if idx == -1 {
		s.mu.Unlock()
		return false
	}
	sess := &s.sessions[idx]
	mi := sess.MessageIndex(messageID)
	if mi == -1 {
		s.mu.Unlock()
		return false
	}

	msg := sess.Messages[mi].Clone()
	if upd.Content != nil {
		msg.Content = *upd.Content
	}
	if upd.Pending != nil {
		if *upd.Pending && !msg.Pending && sess.PendingMessage() != -1 {
			s.mu.Unlock()
			log.Warn().Err(ErrPendingConflict).Str("session_id", sessionID).Msg("Refusing pending update")
			return false
		}
		msg.Pending = *upd.Pending
	}
	if len(upd.Metadata) > 0 {
		if msg.Metadata == nil {
			msg.Metadata = make(map[string]any, len(upd.Metadata))
		}
		for k, v := range upd.Metadata {
			msg.Metadata[k] = v
		}
	}

	msgs := make([]domain.ChatMessage, len(sess.Messages))
	copy(msgs, sess.Messages)
	msgs[mi] = msg
	sess.Messages = msgs
	sess.UpdatedAt = s.now()
	state := s.commitLocked()
	s.mu.Unlock()

	s.persist(state)
	return true
}

// AppendToMessage concatenates a streamed fragment onto a message. Observers
// are notified immediately; persistence is coalesced.
func (s *Store) AppendToMessage(sessionID, messageID, fragment string) bool {
	if fragment == "" {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(sessionID)
	if idx == -1 {
		return false
	}
	sess := &s.sessions[idx]
	mi := sess.MessageIndex(messageID)
	if mi == -1 {
		return false
	}

	sess.Messages[mi].Content += fragment
	sess.UpdatedAt = s.now()
	s.commitLocked()

	s.dirty = true
	if s.flushTimer == nil && !s.closed {
		s.flushTimer = time.AfterFunc(s.flushDelay, func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
			defer cancel()
			if err := s.Flush(ctx); err != nil {
				log.Error().Err(err).Msg("Deferred session flush failed")
			}
		})
	}
	return true
}

// UpdateSessionStatus sets the lifecycle status of a session
func (s *Store) UpdateSessionStatus(sessionID string, status domain.SessionStatus) bool {
	return s.mutate(sessionID, func(sess *domain.ChatSession) {
		sess.Status = status
	})
}

// UpdateSessionMetadata shallow-merges partial into the session metadata
func (s *Store) UpdateSessionMetadata(sessionID string, partial map[string]any) bool {
	return s.mutate(sessionID, func(sess *domain.ChatSession) {
		md := make(map[string]any, len(sess.Metadata)+len(partial))
		for k, v := range sess.Metadata {
			md[k] = v
		}
		for k, v := range partial {
			md[k] = v
		}
		sess.Metadata = md
	})
}

// Rename changes a session title; blank titles are ignored
func (s *Store) Rename(sessionID, title string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		return false
	}
	return s.mutate(sessionID, func(sess *domain.ChatSession) {
		sess.Title = title
	})
}

// ClearAll removes every session
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.sessions = nil
	s.activeID = ""
	state := s.commitLocked()
	s.mu.Unlock()

	s.persist(state)
}

// Snapshot returns a deep copy of the current state
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Get returns a copy of one session
func (s *Store) Get(id string) (domain.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx == -1 {
		return domain.ChatSession{}, false
	}
	return s.sessions[idx].Clone(), true
}

// ActiveSessionID returns the selected session id, or ""
func (s *Store) ActiveSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Flush writes the latest state if anything is unsaved
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.dirty = false
	state := versioned{State: s.snapshotLocked(), version: s.version}
	s.mu.Unlock()

	return s.save(ctx, state)
}

// Close stops deferred work, writes pending changes and closes observers
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	flushErr := s.Flush(ctx)

	s.mu.Lock()
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	if err := s.persister.Close(); err != nil {
		return fmt.Errorf("failed to close persister: %w", err)
	}
	return flushErr
}

// Ping checks the backing persister when it supports it
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.persister.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

type versioned struct {
	State
	version uint64
}

func (s *Store) mutate(sessionID string, fn func(*domain.ChatSession)) bool {
	s.mu.Lock()
	idx := s.indexLocked(sessionID)
	if idx == -1 {
		s.mu.Unlock()
		return false
	}
	fn(&s.sessions[idx])
	s.sessions[idx].UpdatedAt = s.now()
	state := s.commitLocked()
	s.mu.Unlock()

	s.persist(state)
	return true
}

// commitLocked bumps the version, notifies observers and returns the state to persist
func (s *Store) commitLocked() versioned {
	s.version++
	snap := s.snapshotLocked()
	s.broadcastLocked(snap)
	s.dirty = true
	return versioned{State: snap, version: s.version}
}

func (s *Store) persist(state versioned) {
	s.mu.Lock()
	// a newer commit may still rely on the pending timer
	if state.version == s.version {
		s.dirty = false
		if s.flushTimer != nil {
			s.flushTimer.Stop()
			s.flushTimer = nil
		}
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
	defer cancel()
	if err := s.save(ctx, state); err != nil {
		log.Error().Err(err).Msg("Failed to persist sessions")
	}
}

// save writes state unless a newer version is already stored
func (s *Store) save(ctx context.Context, state versioned) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if state.version < s.saved {
		return nil
	}
	if err := s.persister.Save(ctx, state.State); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return fmt.Errorf("failed to save sessions: %w", err)
	}
	s.saved = state.version
	return nil
}

func (s *Store) snapshotLocked() domain.Snapshot {
	out := domain.Snapshot{
		Sessions:        make([]domain.ChatSession, len(s.sessions)),
		ActiveSessionID: s.activeID,
	}
	for i, sess := range s.sessions {
		out.Sessions[i] = sess.Clone()
	}
	return out
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) mostRecentLocked() string {
	best := -1
	for i := range s.sessions {
		if best == -1 || s.sessions[i].UpdatedAt.After(s.sessions[best].UpdatedAt) {
			best = i
		}
	}
	if best == -1 {
		return ""
	}
	return s.sessions[best].ID
}

func cloneMetadata(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
