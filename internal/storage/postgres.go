package storage

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS chat_history (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    message TEXT NOT NULL,
    response TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (user_id, timestamp)
);

CREATE INDEX IF NOT EXISTS idx_chat_history_user_ts
    ON chat_history (user_id, timestamp DESC);
`

// PostgresStore is the deployment HistoryStore flavor, backed by a small
// fixed pgx pool. Connections are checked out per statement; nothing is held
// across calls.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL, bounds the pool to 1-10 connections,
// and ensures the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	cfg.MinConns = 1
	cfg.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// SaveInteraction inserts the record; a duplicate (user_id, timestamp) pair
// is silently skipped.
func (s *PostgresStore) SaveInteraction(ctx context.Context, in Interaction) error {
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_history (id, user_id, message, response, timestamp)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, timestamp) DO NOTHING`,
		id, in.UserID, in.Message, in.Response, in.Timestamp)
	if err != nil {
		if isPostgresTransient(err) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return fmt.Errorf("inserting interaction: %w", err)
	}
	return nil
}

// RecentHistory returns up to limit interactions for userID, newest first.
func (s *PostgresStore) RecentHistory(ctx context.Context, userID string, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, message, response, timestamp, created_at
		 FROM chat_history WHERE user_id = $1
		 ORDER BY timestamp DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		if isPostgresTransient(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var in Interaction
		if err := rows.Scan(&in.ID, &in.UserID, &in.Message, &in.Response, &in.Timestamp, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning interaction: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// isPostgresTransient classifies failures the queue consumer may retry:
// anything that is not a definite statement-level rejection from the server.
func isPostgresTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exceptions; class 57: operator intervention
		// (shutdown, crash). Both clear up on reconnect.
		return len(pgErr.Code) >= 2 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "57")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Errors that never reached the server are safe to replay.
	return pgconn.SafeToRetry(err)
}

var (
	_ HistoryStore = (*PostgresStore)(nil)
	_ HistoryStore = (*SQLiteStore)(nil)
)
