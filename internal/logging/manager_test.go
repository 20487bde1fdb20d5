package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNormalizeLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{" warn ", LevelWarn},
		{"error", LevelError},
		{"verbose", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := NormalizeLevel(tt.in); got != tt.want {
			t.Errorf("NormalizeLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	m := NewManager("warn")
	m.Debug("cache", "refresh skipped")
	m.Info("dispatcher", "dispatched")
	m.Warn("dispatcher", "label add failed")
	m.Error("executor", "submit failed")

	entries := m.Recent(10, "", "")
	if len(entries) != 2 {
		t.Fatalf("kept %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].Level != LevelError || entries[1].Level != LevelWarn {
		t.Errorf("order wrong: %+v", entries)
	}
}

func TestRecentFilters(t *testing.T) {
	m := NewManager("debug")
	m.Info("cache", "hit")
	m.Info("dispatcher", "dispatched #1")
	m.Error("dispatcher", "dispatch #2 failed")

	if got := m.Recent(10, "", "dispatcher"); len(got) != 2 {
		t.Errorf("source filter kept %d, want 2", len(got))
	}
	if got := m.Recent(10, LevelError, ""); len(got) != 1 || got[0].Source != "dispatcher" {
		t.Errorf("level filter = %+v", got)
	}
	if got := m.Recent(1, "", ""); len(got) != 1 || got[0].Message != "dispatch #2 failed" {
		t.Errorf("limit must keep the newest entry: %+v", got)
	}
}

func TestInterceptWriterParsing(t *testing.T) {
	m := NewManager("debug")
	w := &interceptWriter{manager: m}

	lines := []string{
		"[Dispatcher] dispatched create-plan for issue #4\n",
		"[Sessions] WARNING: stale folder left in place\n",
		"plain message without a source\n",
		"[Executor] submit failed: connection refused\n",
	}
	for _, line := range lines {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	entries := m.Recent(10, "", "")
	if len(entries) != 4 {
		t.Fatalf("captured %d entries, want 4", len(entries))
	}
	// Newest first: executor error, plain, sessions warn, dispatcher info.
	checks := []struct {
		source, level string
	}{
		{"executor", LevelError},
		{"system", LevelInfo},
		{"sessions", LevelWarn},
		{"dispatcher", LevelInfo},
	}
	for i, want := range checks {
		if entries[i].Source != want.source || entries[i].Level != want.level {
			t.Errorf("entry %d = %s/%s, want %s/%s",
				i, entries[i].Source, entries[i].Level, want.source, want.level)
		}
	}
	if entries[3].Message != "dispatched create-plan for issue #4" {
		t.Errorf("prefix not stripped: %q", entries[3].Message)
	}
}

func TestJSONLSink(t *testing.T) {
	m := NewManager("info")
	m.now = func() time.Time { return time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC) }
	path := filepath.Join(t.TempDir(), "coordinator.jsonl")
	closer, err := m.OpenSink(path)
	if err != nil {
		t.Fatalf("OpenSink failed: %v", err)
	}
	m.Info("cache", "refreshed acme/foo")
	m.Debug("cache", "below threshold, not written")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var got []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("sink line not valid JSON: %v", err)
		}
		got = append(got, entry)
	}
	if len(got) != 1 || got[0].Message != "refreshed acme/foo" {
		t.Errorf("sink contents = %+v", got)
	}
}
