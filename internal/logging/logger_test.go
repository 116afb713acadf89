package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)
	l.Info("hidden")
	l.Warn("shown", "path", "main.ink")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("INFO record written at WARN level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "path=main.ink") {
		t.Errorf("WARN record missing or incomplete: %q", out)
	}
}

func TestLogger_WithAddsAttributes(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := New(&buf, LevelDebug).With("job", "abc")
	l.Debug("started")
	if !strings.Contains(buf.String(), "job=abc") {
		t.Errorf("child logger lost attribute: %q", buf.String())
	}
}

func TestNewFile_WritesJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "logs", "inkwell.log")
	l, err := NewFile(path, LevelInfo)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	l.Error("boom", "target", "main.ink")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, data)
	}
	if rec["msg"] != "boom" || rec["target"] != "main.ink" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestOrDiscard(t *testing.T) {
	t.Parallel()
	if OrDiscard(nil) == nil {
		t.Fatal("OrDiscard(nil) returned nil")
	}
	l := Discard()
	if OrDiscard(l) != l {
		t.Error("OrDiscard should return a non-nil logger unchanged")
	}
}
