package model

import (
	"context"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is one append-only entry of a session's history.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	AgentName string    `json:"agent_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationSession threads history and memory through one interaction stream.
type ConversationSession struct {
	SessionID string
	UserID    string
	Partition string
	CreatedAt time.Time
	Created   bool // true when this load created the session

	Turns  []Turn         // most recent turns, oldest first
	Memory []MemoryRecord // snapshot taken when the session was loaded
}

// SessionStore holds ordered per-session history. Append is the only mutation
// besides an explicit Reset.
type SessionStore interface {
	// Load returns the session, creating its metadata on first use.
	Load(ctx context.Context, sessionID, userID string) (*ConversationSession, error)

	// Append stamps and appends turns in order. Turns passed together are stored adjacently.
	Append(ctx context.Context, sessionID string, turns ...Turn) error

	// GetHistory returns the last limit turns in append order (all when limit <= 0).
	GetHistory(ctx context.Context, sessionID string, limit int) ([]Turn, error)

	// Reset deletes the session history and metadata.
	Reset(ctx context.Context, sessionID string) error
}
