package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/papapumpkin/inkwell/internal/source"
)

// testStore opens a temporary database and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "registry.db")
	s, err := Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Open(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecords() []source.Record {
	edited := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)
	compiled := edited.Add(time.Minute)
	return []source.Record{
		{
			Path:         "main.ink",
			IncludePaths: []string{"parts/a.ink", "parts/b.ink"},
			IncludeLines: []int{1, 4},
			Diagnostics: []source.Diagnostic{
				{Severity: source.SeverityWarning, File: "main.ink", Line: 9, Message: "unused knot"},
			},
			UnhandledFailures: []string{"compiler crashed"},
			LastEditTime:      edited,
			LastCompileTime:   compiled,
		},
		{
			Path:         "parts/a.ink",
			Masters:      []string{"main.ink"},
			LastEditTime: edited,
			Diagnostics: []source.Diagnostic{
				{Severity: source.SeverityError, File: "parts/a.ink", Line: 2, Message: "divert target not found"},
				{Severity: source.SeverityNote, File: "parts/a.ink", Line: 7, Message: "finish this"},
			},
		},
		{
			Path:    "parts/b.ink",
			Masters: []string{"main.ink"},
		},
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want %q", mode, "wal")
	}
}

func TestOpen_ExistingDatabase(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "registry.db")
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		s, err := Open(ctx, dbPath)
		if err != nil {
			t.Fatalf("Open #%d: %v", i+1, err)
		}
		if err := s.SaveRecords(ctx, sampleRecords()); err != nil {
			t.Fatalf("SaveRecords #%d: %v", i+1, err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i+1, err)
		}
	}
}

func TestLoadRecords_Empty(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	if _, err := s.LoadRecords(context.Background()); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("LoadRecords = %v, want ErrNoSnapshot", err)
	}
	at, err := s.SavedAt(context.Background())
	if err != nil || !at.IsZero() {
		t.Errorf("SavedAt = %v, %v; want zero time", at, err)
	}
}

func TestSaveAndLoadRecords(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()
	saved := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return saved }

	want := sampleRecords()
	if err := s.SaveRecords(ctx, want); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}
	got, err := s.LoadRecords(ctx)
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	at, err := s.SavedAt(ctx)
	if err != nil {
		t.Fatalf("SavedAt: %v", err)
	}
	if !at.Equal(saved) {
		t.Errorf("SavedAt = %v, want %v", at, saved)
	}
}

func TestSaveRecords_Replaces(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveRecords(ctx, sampleRecords()); err != nil {
		t.Fatalf("first SaveRecords: %v", err)
	}
	want := []source.Record{{Path: "solo.ink", IncludePaths: []string{"gone.ink"}, IncludeLines: []int{3}}}
	if err := s.SaveRecords(ctx, want); err != nil {
		t.Fatalf("second SaveRecords: %v", err)
	}
	got, err := s.LoadRecords(ctx)
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	var orphans int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM diagnostics").Scan(&orphans); err != nil {
		t.Fatalf("count diagnostics: %v", err)
	}
	if orphans != 0 {
		t.Errorf("%d diagnostics survived the replace", orphans)
	}
}

func TestSaveRecords_EmptySnapshot(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()
	if err := s.SaveRecords(ctx, nil); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}
	got, err := s.LoadRecords(ctx)
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d records, want 0", len(got))
	}
}

func TestLoadRecords_CountMismatch(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()
	if err := s.SaveRecords(ctx, sampleRecords()); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}
	if _, err := s.db.Exec("UPDATE snapshot SET files = 99"); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, err := s.LoadRecords(ctx); err == nil {
		t.Fatal("expected an error for a truncated snapshot")
	}
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2026-03-01T10:00:00.5Z", time.Date(2026, 3, 1, 10, 0, 0, 500000000, time.UTC), false},
		{"2026-03-01T10:00:00Z", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"2026-03-01 10:00:00", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"yesterday", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := parseTimestamp(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTimestamp(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
