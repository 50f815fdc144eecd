package domain

import (
	"time"
)

// MessageRole represents the sender of a message
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
	RoleAgent     MessageRole = "agent"
)

// ChatMessage represents a single entry in a session transcript
type ChatMessage struct {
	ID        string         `json:"id" bson:"id"`
	Role      MessageRole    `json:"role" bson:"role"`
	Content   string         `json:"content" bson:"content"`
	CreatedAt time.Time      `json:"createdAt" bson:"createdAt"`
	Pending   bool           `json:"pending,omitempty" bson:"pending,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// Clone returns a deep copy of the message
func (m ChatMessage) Clone() ChatMessage {
	out := m
	out.Metadata = cloneMap(m.Metadata)
	return out
}

// MessageInput carries the caller-supplied fields of a new message.
// Identity and timestamp are assigned by the store.
type MessageInput struct {
	Role     MessageRole
	Content  string
	Pending  bool
	Metadata map[string]any
}

// MessageUpdate carries the fields to replace on an existing message.
// Nil fields are left untouched; Metadata is shallow-merged.
type MessageUpdate struct {
	Content  *string
	Pending  *bool
	Metadata map[string]any
}

// IsReplayable reports whether the message is part of the provider conversation history
func (m ChatMessage) IsReplayable() bool {
	return m.Role == RoleUser || m.Role == RoleAssistant
}
