// Package logging buffers structured log entries in memory and captures the
// stdlib log package's "[Component] message" output, so any CLI command can
// dump what happened without a logging framework in every package.
package logging

import (
	"container/ring"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	// MaxBufferSize is the maximum number of log entries kept in memory.
	MaxBufferSize = 2000

	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

var levelRank = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// NormalizeLevel maps a CLI --log-level value onto a known level, defaulting
// to info.
func NormalizeLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	if _, ok := levelRank[level]; ok {
		return level
	}
	return LevelInfo
}

// Entry is a single structured log record.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
}

// Manager collects entries into a bounded ring buffer, filters below the
// configured minimum level, and optionally mirrors everything to a JSONL
// sink file.
type Manager struct {
	mu       sync.RWMutex
	buffer   *ring.Ring
	minLevel string
	sink     io.Writer
	now      func() time.Time
}

// NewManager creates a manager that keeps entries at or above minLevel.
func NewManager(minLevel string) *Manager {
	return &Manager{
		buffer:   ring.New(MaxBufferSize),
		minLevel: NormalizeLevel(minLevel),
		now:      time.Now,
	}
}

// OpenSink mirrors every kept entry to a JSONL file, one record per line.
// The file is appended to across invocations.
func (m *Manager) OpenSink(path string) (io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log sink: %w", err)
	}
	m.mu.Lock()
	m.sink = f
	m.mu.Unlock()
	return f, nil
}

// Log records one entry, dropping it when below the minimum level.
func (m *Manager) Log(level, source, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if levelRank[level] < levelRank[m.minLevel] {
		return
	}
	entry := Entry{
		Timestamp: m.now().UTC(),
		Level:     level,
		Source:    source,
		Message:   message,
	}
	m.buffer.Value = entry
	m.buffer = m.buffer.Next()

	if m.sink != nil {
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintf(m.sink, "%s\n", data)
		}
	}
}

func (m *Manager) Debug(source, message string) { m.Log(LevelDebug, source, message) }
func (m *Manager) Info(source, message string)  { m.Log(LevelInfo, source, message) }
func (m *Manager) Warn(source, message string)  { m.Log(LevelWarn, source, message) }
func (m *Manager) Error(source, message string) { m.Log(LevelError, source, message) }

// Recent returns up to limit buffered entries, newest first, optionally
// filtered by level and source.
func (m *Manager) Recent(limit int, levelFilter, sourceFilter string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > MaxBufferSize {
		limit = 100
	}

	entries := make([]Entry, 0, limit)
	m.buffer.Do(func(v interface{}) {
		entry, ok := v.(Entry)
		if !ok {
			return
		}
		if levelFilter != "" && entry.Level != levelFilter {
			return
		}
		if sourceFilter != "" && entry.Source != sourceFilter {
			return
		}
		entries = append(entries, entry)
	})

	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	// Newest first.
	for i := 0; i < len(entries)/2; i++ {
		entries[i], entries[len(entries)-1-i] = entries[len(entries)-1-i], entries[i]
	}
	return entries
}

// interceptWriter routes stdlib log output into the manager.
type interceptWriter struct {
	manager *Manager
	stderr  io.Writer
}

// Write parses "[Source] message" lines from log.Printf calls. Lines that
// mention an error or a warning are classified accordingly; everything else
// is info.
func (w *interceptWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))

	level := LevelInfo
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "error") || strings.Contains(lower, "fail") {
		level = LevelError
	} else if strings.Contains(lower, "warn") {
		level = LevelWarn
	}

	source := "system"
	if len(msg) > 2 && msg[0] == '[' {
		if end := strings.Index(msg, "]"); end > 1 {
			source = strings.ToLower(msg[1:end])
			msg = strings.TrimSpace(msg[end+1:])
		}
	}

	w.manager.Log(level, source, msg)
	if w.stderr != nil && levelRank[level] >= levelRank[w.manager.minLevel] {
		fmt.Fprintf(w.stderr, "%s\n", strings.TrimSpace(string(p)))
	}
	return len(p), nil
}

// InstallInterceptor redirects the stdlib log package through the manager.
// Kept entries are still echoed to stderr so the CLI stays observable. Call
// once at startup.
func (m *Manager) InstallInterceptor() {
	log.SetOutput(&interceptWriter{manager: m, stderr: os.Stderr})
	log.SetFlags(0)
}
