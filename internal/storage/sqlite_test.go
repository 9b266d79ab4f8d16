package storage

import (
	"context"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndReadBack(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ts := time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)
	in := Interaction{
		UserID:    "42",
		Message:   "hello",
		Response:  "hi there",
		Timestamp: ts,
	}
	if err := s.SaveInteraction(ctx, in); err != nil {
		t.Fatalf("SaveInteraction: %v", err)
	}

	got, err := s.RecentHistory(ctx, "42", 0)
	if err != nil {
		t.Fatalf("RecentHistory: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d interactions, want 1", len(got))
	}
	if got[0].Message != "hello" || got[0].Response != "hi there" {
		t.Errorf("round trip mangled content: %+v", got[0])
	}
	if !got[0].Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", got[0].Timestamp, ts)
	}
	if got[0].ID == "" {
		t.Error("stored interaction has no surrogate id")
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("stored interaction has no created_at")
	}
}

func TestSaveInteractionIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ts := time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)
	in := Interaction{UserID: "u1", Message: "m", Response: "r", Timestamp: ts}

	// At-least-once delivery: the same record may be saved repeatedly.
	for range 3 {
		if err := s.SaveInteraction(ctx, in); err != nil {
			t.Fatalf("SaveInteraction replay: %v", err)
		}
	}

	got, err := s.RecentHistory(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("RecentHistory: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("duplicate (user_id, timestamp) stored %d times, want 1", len(got))
	}
}

func TestRecentHistoryNewestFirstAndBounded(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	for i := range 60 {
		in := Interaction{
			UserID:    "u1",
			Message:   "m",
			Response:  "r",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveInteraction(ctx, in); err != nil {
			t.Fatalf("SaveInteraction %d: %v", i, err)
		}
	}

	got, err := s.RecentHistory(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("RecentHistory: %v", err)
	}
	if len(got) != DefaultHistoryLimit {
		t.Fatalf("got %d interactions, want default limit %d", len(got), DefaultHistoryLimit)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Fatalf("history not newest first at index %d", i)
		}
	}
	if want := base.Add(59 * time.Minute); !got[0].Timestamp.Equal(want) {
		t.Errorf("newest timestamp = %v, want %v", got[0].Timestamp, want)
	}
}

func TestRecentHistoryMixedPrecisionTimestamps(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	// Within one second, a short fraction (".1") and a longer one (".15")
	// must still come back in time order, not string order.
	older := time.Date(2026, 8, 28, 10, 30, 0, 100_000_000, time.UTC)
	newer := time.Date(2026, 8, 28, 10, 30, 0, 150_000_000, time.UTC)

	for _, in := range []Interaction{
		{UserID: "u1", Message: "first", Response: "r", Timestamp: older},
		{UserID: "u1", Message: "second", Response: "r", Timestamp: newer},
	} {
		if err := s.SaveInteraction(ctx, in); err != nil {
			t.Fatalf("SaveInteraction: %v", err)
		}
	}

	got, err := s.RecentHistory(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("RecentHistory: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d interactions, want 2", len(got))
	}
	if !got[0].Timestamp.Equal(newer) {
		t.Errorf("first row timestamp = %v, want the newer %v", got[0].Timestamp, newer)
	}
}

func TestRecentHistoryScopedToUser(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ts := time.Now().UTC().Truncate(time.Second)
	s.SaveInteraction(ctx, Interaction{UserID: "u1", Message: "a", Response: "b", Timestamp: ts})
	s.SaveInteraction(ctx, Interaction{UserID: "u2", Message: "c", Response: "d", Timestamp: ts})

	got, err := s.RecentHistory(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("RecentHistory: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "u1" {
		t.Errorf("RecentHistory(u1) = %+v, want only u1 rows", got)
	}
}
