package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/secassist/internal/domain"
	"github.com/Rrens/secassist/internal/llm"
	"github.com/Rrens/secassist/internal/session"
)

var (
	ErrSessionNotFound = session.ErrSessionNotFound
	ErrInputNotAllowed = errors.New("session does not accept user input")
	ErrSessionBusy     = errors.New("session already has a request in flight")
	ErrEditRejected    = errors.New("edit rejected")
	ErrNoConfirmation  = errors.New("no fix awaiting confirmation")
)

// SessionStore is the subset of session.Store used by the services
type SessionStore interface {
	Create(t domain.SessionType, title string, metadata map[string]any) domain.ChatSession
	Get(id string) (domain.ChatSession, bool)
	AddMessage(sessionID string, in domain.MessageInput) (domain.ChatMessage, bool)
	UpdateMessage(sessionID, messageID string, upd domain.MessageUpdate) bool
	AppendToMessage(sessionID, messageID, fragment string) bool
	UpdateSessionStatus(sessionID string, status domain.SessionStatus) bool
	UpdateSessionMetadata(sessionID string, partial map[string]any) bool
	Rename(sessionID, title string) bool
	Flush(ctx context.Context) error
}

// ProviderSource resolves providers by name; "" selects the default
type ProviderSource interface {
	GetProvider(name string) (llm.Provider, error)
}

// NoticeLevel is the severity of a user-visible notice
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-visible message that is not part of a transcript
type Notice struct {
	Level     NoticeLevel `json:"level"`
	SessionID string      `json:"sessionId,omitempty"`
	Message   string      `json:"message"`
	Time      time.Time   `json:"time"`
}

// Notifier surfaces notices to the user
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(n Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// LogNotifier writes notices to the structured log
type LogNotifier struct{}

func (LogNotifier) Notify(n Notice) {
	ev := log.Info()
	switch n.Level {
	case NoticeWarning:
		ev = log.Warn()
	case NoticeError:
		ev = log.Error()
	}
	ev.Str("session_id", n.SessionID).Msg(n.Message)
}

// MultiNotifier fans a notice out to several notifiers
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(n Notice) {
	for _, x := range m {
		if x != nil {
			x.Notify(n)
		}
	}
}

func notify(n Notifier, level NoticeLevel, sessionID, msg string) {
	if n == nil {
		return
	}
	n.Notify(Notice{Level: level, SessionID: sessionID, Message: msg, Time: time.Now()})
}

// flushStore persists coalesced writes before a terminal status is reported
func flushStore(store SessionStore, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Flush(ctx); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to flush sessions")
	}
}

func ptr[T any](v T) *T { return &v }
