package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "sessions.json"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func TestStoreLoadEmpty(t *testing.T) {
	s := newTestStore(t)
	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(doc.Sessions) != 0 {
		t.Errorf("expected empty document, got %+v", doc)
	}
}

func TestStoreUpsertAndFind(t *testing.T) {
	s := newTestStore(t)
	sess := Session{
		Folder:      "/work/acme-foo-issue-4",
		Repo:        "acme/foo",
		IssueNumber: 4,
		Status:      "status-04:plan-review",
		EditorPID:   1234,
		StartedAt:   time.Now().UTC().Truncate(time.Second),
	}
	if err := s.Upsert(sess); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, found, err := s.FindByIssue("acme/foo", 4)
	if err != nil || !found {
		t.Fatalf("FindByIssue = %v, %v", found, err)
	}
	if diff := cmp.Diff(sess, got); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}

	if _, found, _ := s.FindByIssue("acme/foo", 5); found {
		t.Errorf("unexpected session for issue 5")
	}
}

func TestStoreOneSessionPerIssue(t *testing.T) {
	s := newTestStore(t)
	if err := s.Upsert(Session{Folder: "/a", Repo: "acme/foo", IssueNumber: 4}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	// Same issue in a different folder must be rejected while live.
	if err := s.Upsert(Session{Folder: "/b", Repo: "acme/foo", IssueNumber: 4}); err == nil {
		t.Errorf("duplicate (repo, issue) accepted")
	}
	// Updating the same folder is fine.
	if err := s.Upsert(Session{Folder: "/a", Repo: "acme/foo", IssueNumber: 4, EditorPID: 99}); err != nil {
		t.Errorf("update by folder failed: %v", err)
	}
}

func TestStoreRemove(t *testing.T) {
	s := newTestStore(t)
	if err := s.Upsert(Session{Folder: "/a", Repo: "acme/foo", IssueNumber: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("/a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, found, _ := s.FindByIssue("acme/foo", 1); found {
		t.Errorf("session survived Remove")
	}
	if err := s.Remove("/does-not-exist"); err != nil {
		t.Errorf("removing absent folder must be a no-op, got %v", err)
	}
}

func TestStoreRoundTripFixedPoint(t *testing.T) {
	s := newTestStore(t)
	sessions := []Session{
		{Folder: "/a", Repo: "acme/foo", IssueNumber: 1, Status: "status-04:plan-review",
			EditorPID: 10, StartedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)},
		{Folder: "/b", Repo: "acme/bar", IssueNumber: 2, IsIntervention: true,
			StartedAt: time.Date(2026, 8, 2, 9, 30, 0, 0, time.UTC)},
	}
	for _, sess := range sessions {
		if err := s.Upsert(sess); err != nil {
			t.Fatal(err)
		}
	}

	// Serializing what Load returns must reproduce the file byte for byte.
	first, err := os.ReadFile(s.path)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	again, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(string(first), string(again)); diff != "" {
		t.Errorf("document round-trip is not a fixed point (-file +reserialized):\n%s", diff)
	}
}
