// Package storage persists chat interactions. Two backends share one
// contract: Postgres for deployments, SQLite for local runs and tests.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps transient backend failures (connection drops, pool
// exhaustion). Consumers treat anything wrapping it as retriable and requeue
// the message; every other error is permanent.
var ErrUnavailable = errors.New("store unavailable")

// Interaction is one persisted user/bot exchange.
type Interaction struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryStore is the durable sink at the end of the logging pipeline.
type HistoryStore interface {
	// SaveInteraction inserts one interaction. Inserts are idempotent on
	// (user_id, timestamp): replaying the same record is a no-op, not an
	// error, because the queue only guarantees at-least-once delivery.
	SaveInteraction(ctx context.Context, in Interaction) error

	// RecentHistory returns up to limit interactions for userID, newest
	// first.
	RecentHistory(ctx context.Context, userID string, limit int) ([]Interaction, error)

	// Close releases backend resources.
	Close() error
}

// DefaultHistoryLimit bounds the recent-history read when the caller does not
// specify a limit.
const DefaultHistoryLimit = 50
