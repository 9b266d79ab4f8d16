package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteTimeLayout is RFC3339 with fixed-width nanoseconds. The timestamp
// column is TEXT and ordered lexicographically; a variable-width fraction
// (RFC3339Nano drops trailing zeros) would sort ".15" before ".1".
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore is the local HistoryStore flavor. Pass ":memory:" as dataDir
// for an in-memory database (used by tests).
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the history database in dataDir and applies
// pending migrations.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "chatgate.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single connection avoids "database is locked" under concurrent writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		script, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.Exec(string(script)); err != nil {
			return fmt.Errorf("applying migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// SaveInteraction inserts the record, ignoring duplicates on
// (user_id, timestamp).
func (s *SQLiteStore) SaveInteraction(ctx context.Context, in Interaction) error {
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chat_history (id, user_id, message, response, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		id, in.UserID, in.Message, in.Response, in.Timestamp.UTC().Format(sqliteTimeLayout))
	if err != nil {
		if isSQLiteTransient(err) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return fmt.Errorf("inserting interaction: %w", err)
	}
	return nil
}

// RecentHistory returns up to limit interactions for userID, newest first.
func (s *SQLiteStore) RecentHistory(ctx context.Context, userID string, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, message, response, timestamp, created_at
		 FROM chat_history WHERE user_id = ?
		 ORDER BY timestamp DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var in Interaction
		var ts, createdAt string
		if err := rows.Scan(&in.ID, &in.UserID, &in.Message, &in.Response, &ts, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning interaction: %w", err)
		}
		if in.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp for %s: %w", in.ID, err)
		}
		if in.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", in.ID, err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func isSQLiteTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	// modernc.org/sqlite surfaces busy/locked as plain error strings.
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
