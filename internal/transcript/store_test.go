package transcript_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"sigilla/internal/transcript"
)

func TestRecordAndRecentNewestFirst(t *testing.T) {
	store, err := transcript.Open(filepath.Join(t.TempDir(), "state", "transcript.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, content := range []string{"first", "second", "third"} {
		_, err := store.Record(ctx, transcript.Turn{
			SessionID:    "sess-1",
			ConnID:       "conn-a",
			Content:      content,
			ReplyText:    "echo: " + content,
			Outcome:      transcript.OutcomeResult,
			MessageCount: 2,
			StartedAt:    base.Add(time.Duration(i) * time.Minute),
			FinishedAt:   base.Add(time.Duration(i)*time.Minute + 3*time.Second),
		})
		if err != nil {
			t.Fatalf("Record %s: %v", content, err)
		}
	}

	turns, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("len = %d, want 2", len(turns))
	}
	if turns[0].Content != "third" || turns[1].Content != "second" {
		t.Fatalf("unexpected order: %q, %q", turns[0].Content, turns[1].Content)
	}
	if turns[0].Duration() != 3*time.Second {
		t.Fatalf("duration = %s", turns[0].Duration())
	}
	if !turns[0].StartedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("started_at = %s", turns[0].StartedAt)
	}

	n, err := store.Count(ctx, "sess-1")
	if err != nil || n != 3 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	n, err = store.Count(ctx, "other")
	if err != nil || n != 0 {
		t.Fatalf("Count(other) = %d, %v", n, err)
	}
}

func TestRecordRequiresOutcome(t *testing.T) {
	store, err := transcript.Open(filepath.Join(t.TempDir(), "transcript.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if _, err := store.Record(context.Background(), transcript.Turn{Content: "x"}); err == nil {
		t.Fatal("expected error for missing outcome")
	}
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.db")
	store, err := transcript.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.Record(context.Background(), transcript.Turn{
		SessionID: "s", ConnID: "c", Content: "hello", Outcome: transcript.OutcomeTimeout,
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	_ = store.Close()

	store, err = transcript.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	turns, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(turns) != 1 || turns[0].Outcome != transcript.OutcomeTimeout {
		t.Fatalf("unexpected turns: %+v", turns)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := transcript.Open(" "); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenDetectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.db")
	store, err := transcript.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	if _, err := transcript.Open(path); !errors.Is(err, transcript.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
