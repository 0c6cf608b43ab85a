package model

import (
	"context"
	"time"
)

// MemoryRecord is a durable fact about a user, extracted after a completed turn.
type MemoryRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FactText  string    `json:"fact_text"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryStore holds per-user facts. Writes for the same user are serialized;
// different users never block each other.
type MemoryStore interface {
	Get(ctx context.Context, userID string) ([]MemoryRecord, error)
	Append(ctx context.Context, userID string, facts []string) ([]MemoryRecord, error)
	Clear(ctx context.Context, userID string) error
}
