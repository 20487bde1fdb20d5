// Package sessions manages attended editor sessions for human_action
// issues: a persistent session document, working-folder preparation, editor
// process detection, and the reconciliation loop that keeps all three in
// agreement.
package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Session is one persistent record of an interactive editor session. The
// folder path is the primary key; repo and issue number are stable foreign
// keys into GitHub, never live object references.
type Session struct {
	Folder         string    `json:"folder"`
	Repo           string    `json:"repo"` // "owner/repo"
	IssueNumber    int       `json:"issue_number"`
	Status         string    `json:"status"` // status label at launch time
	EditorPID      int       `json:"editor_pid,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	IsIntervention bool      `json:"is_intervention,omitempty"`
}

// Document is the whole session store as serialized to disk.
type Document struct {
	Sessions    []Session `json:"sessions"`
	LastUpdated time.Time `json:"last_updated"`
}

// Store owns the session document. The whole document is rewritten on every
// change; two concurrent attended commands are unsupported and race
// last-write-wins.
type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// DefaultStorePath returns the platform session document location, e.g.
// ~/.config/mcp_coder/coordinator_cache/vscodeclaude_sessions.json on Linux.
func DefaultStorePath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "mcp_coder", "coordinator_cache", "vscodeclaude_sessions.json"), nil
}

// NewStore creates a store at path. Pass "" for the platform default.
func NewStore(path string) (*Store, error) {
	if path == "" {
		var err error
		path, err = DefaultStorePath()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create session store dir: %w", err)
	}
	return &Store{path: path, now: time.Now}, nil
}

// Load reads the session document. A missing file is an empty document.
func (s *Store) Load() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session store: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse session store %s: %w", s.path, err)
	}
	return &doc, nil
}

func (s *Store) save(doc *Document) error {
	doc.LastUpdated = s.now().UTC()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write session store: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the session keyed by folder.
func (s *Store) Upsert(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	replaced := false
	for i := range doc.Sessions {
		if doc.Sessions[i].Folder == sess.Folder {
			doc.Sessions[i] = sess
			replaced = true
			break
		}
	}
	if !replaced {
		// One live session per (repo, issue) regardless of folder.
		for _, existing := range doc.Sessions {
			if existing.Repo == sess.Repo && existing.IssueNumber == sess.IssueNumber {
				return fmt.Errorf("session for %s#%d already exists at %s", sess.Repo, sess.IssueNumber, existing.Folder)
			}
		}
		doc.Sessions = append(doc.Sessions, sess)
	}
	return s.save(doc)
}

// Remove deletes the session keyed by folder. Removing an absent folder is
// a no-op.
func (s *Store) Remove(folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	kept := doc.Sessions[:0]
	for _, sess := range doc.Sessions {
		if sess.Folder != folder {
			kept = append(kept, sess)
		}
	}
	doc.Sessions = kept
	return s.save(doc)
}

// FindByIssue returns the live session for (repo, issueNumber), if any.
func (s *Store) FindByIssue(repo string, issueNumber int) (Session, bool, error) {
	doc, err := s.Load()
	if err != nil {
		return Session{}, false, err
	}
	for _, sess := range doc.Sessions {
		if sess.Repo == repo && sess.IssueNumber == issueNumber {
			return sess, true, nil
		}
	}
	return Session{}, false, nil
}
