package domain

import (
	"time"
)

// SessionType distinguishes free-form Q&A sessions from orchestrator-driven fix sessions
type SessionType string

const (
	SessionTypeQA  SessionType = "qa"
	SessionTypeFix SessionType = "fix"
)

// SessionStatus represents the lifecycle state of a session
type SessionStatus string

const (
	StatusIdle      SessionStatus = "idle"
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusError     SessionStatus = "error"
	StatusCancelled SessionStatus = "cancelled"
)

// IsTerminal reports whether the status ends a run
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Well-known session metadata keys
const (
	MetaFilePath          = "filePath"
	MetaLanguageID        = "languageId"
	MetaDiagnosticCode    = "diagnosticCode"
	MetaDiagnosticMessage = "diagnosticMessage"
	MetaVulnerability     = "vulnerability"
	MetaLastFixProposal   = "lastFixProposal"
	MetaApprovalNotes     = "approvalNotes"
	MetaAttempts          = "attempts"
	MetaTokens            = "tokens"
	MetaPromptTokens      = "promptTokens"
	MetaTool              = "tool"
)

// DefaultSessionTitle is used for new qa sessions without an explicit title
const DefaultSessionTitle = "New Chat"

// ChatSession represents a persisted conversation
type ChatSession struct {
	ID             string         `json:"id" bson:"id"`
	Type           SessionType    `json:"type" bson:"type"`
	Title          string         `json:"title" bson:"title"`
	CreatedAt      time.Time      `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt" bson:"updatedAt"`
	AllowUserInput *bool          `json:"allowUserInput,omitempty" bson:"allowUserInput,omitempty"`
	Status         SessionStatus  `json:"status,omitempty" bson:"status,omitempty"`
	Messages       []ChatMessage  `json:"messages" bson:"messages"`
	Metadata       map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// AcceptsInput reports whether users may type into the session.
// A missing flag falls back to the session type.
func (s ChatSession) AcceptsInput() bool {
	if s.AllowUserInput == nil {
		return s.Type == SessionTypeQA
	}
	return *s.AllowUserInput
}

// PendingMessage returns the index of the pending message, or -1
func (s ChatSession) PendingMessage() int {
	for i, m := range s.Messages {
		if m.Pending {
			return i
		}
	}
	return -1
}

// MessageIndex returns the index of the message with the given id, or -1
func (s ChatSession) MessageIndex(messageID string) int {
	for i, m := range s.Messages {
		if m.ID == messageID {
			return i
		}
	}
	return -1
}

// MetadataString returns a string metadata value or ""
func (s ChatSession) MetadataString(key string) string {
	if s.Metadata == nil {
		return ""
	}
	v, _ := s.Metadata[key].(string)
	return v
}

// Clone returns a deep copy safe to hand to observers
func (s ChatSession) Clone() ChatSession {
	out := s
	if s.AllowUserInput != nil {
		v := *s.AllowUserInput
		out.AllowUserInput = &v
	}
	out.Messages = make([]ChatMessage, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m.Clone()
	}
	out.Metadata = cloneMap(s.Metadata)
	return out
}

// NewSession builds a session whose input flag is derived from its type
func NewSession(id string, t SessionType, title string, metadata map[string]any, now time.Time) ChatSession {
	allow := t == SessionTypeQA
	if metadata == nil {
		metadata = map[string]any{}
	}
	return ChatSession{
		ID:             id,
		Type:           t,
		Title:          title,
		CreatedAt:      now,
		UpdatedAt:      now,
		AllowUserInput: &allow,
		Status:         StatusIdle,
		Messages:       []ChatMessage{},
		Metadata:       cloneMap(metadata),
	}
}

// Snapshot is the observable state of the whole session store
type Snapshot struct {
	Sessions        []ChatSession `json:"sessions"`
	ActiveSessionID string        `json:"activeSessionId,omitempty"`
}

// NormalizeSessions repairs sessions read from storage so that older or
// partially written data never breaks startup.
func NormalizeSessions(sessions []ChatSession) []ChatSession {
	out := make([]ChatSession, 0, len(sessions))
	for _, s := range sessions {
		if s.ID == "" {
			continue
		}
		if s.Type != SessionTypeQA && s.Type != SessionTypeFix {
			s.Type = SessionTypeQA
		}
		// the flag is derived from the type, stored values are not trusted
		allow := s.Type == SessionTypeQA
		s.AllowUserInput = &allow

		if s.Status == "" {
			s.Status = StatusIdle
		}
		if s.Messages == nil {
			s.Messages = []ChatMessage{}
		}
		if s.Metadata == nil {
			s.Metadata = map[string]any{}
		}

		// a run interrupted by a restart cannot resume
		if s.Status == StatusRunning {
			s.Status = StatusError
		}
		for i := range s.Messages {
			s.Messages[i].Pending = false
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = s.CreatedAt
		}
		out = append(out, s)
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
