package githubapi

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func fakeRun(t *testing.T, wantFragment string, out string) runFunc {
	t.Helper()
	return func(ctx context.Context, args ...string) ([]byte, error) {
		joined := strings.Join(args, " ")
		if !strings.Contains(joined, wantFragment) {
			t.Errorf("gh invocation %q missing %q", joined, wantFragment)
		}
		return []byte(out), nil
	}
}

func TestListOpenIssues(t *testing.T) {
	c := NewClient("acme/foo", "")
	c.run = fakeRun(t, "issue list -R acme/foo", `[
		{"number": 42, "title": "Add parser", "state": "OPEN", "url": "https://github.com/acme/foo/issues/42",
		 "labels": [{"name": "status-02:awaiting-planning"}, {"name": "test"}],
		 "assignees": [{"login": "coder-bot"}]}
	]`)

	issues, err := c.ListOpenIssues(context.Background())
	if err != nil {
		t.Fatalf("ListOpenIssues failed: %v", err)
	}
	want := []Issue{{
		Number:    42,
		Title:     "Add parser",
		State:     "open",
		URL:       "https://github.com/acme/foo/issues/42",
		Labels:    []string{"status-02:awaiting-planning", "test"},
		Assignees: []string{"coder-bot"},
	}}
	if diff := cmp.Diff(want, issues); diff != "" {
		t.Errorf("issues mismatch (-want +got):\n%s", diff)
	}
}

func TestLinkedBranches(t *testing.T) {
	c := NewClient("acme/foo", "")
	c.run = fakeRun(t, "api graphql", `{
		"data": {"repository": {"issue": {"linkedBranches": {"nodes": [
			{"ref": {"name": "42-add-parser"}}
		]}}}}
	}`)

	branches, err := c.LinkedBranches(context.Background(), 42)
	if err != nil {
		t.Fatalf("LinkedBranches failed: %v", err)
	}
	if len(branches) != 1 || branches[0] != "42-add-parser" {
		t.Errorf("branches = %v, want [42-add-parser]", branches)
	}
}

func TestIssueHelpers(t *testing.T) {
	i := Issue{State: "open", Labels: []string{"a"}, Assignees: []string{"bot"}}
	if !i.IsOpen() || !i.HasLabel("a") || i.HasLabel("b") || !i.HasAssignee("bot") {
		t.Errorf("issue helper predicates wrong: %+v", i)
	}
}

func TestFullNameFromURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://github.com/acme/foo.git", "acme/foo", false},
		{"https://github.com/acme/foo", "acme/foo", false},
		{"git@github.com:acme/foo.git", "acme/foo", false},
		{"https://github.com/acme", "", true},
		{"not a url", "", true},
	}
	for _, tt := range tests {
		got, err := FullNameFromURL(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("FullNameFromURL(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("FullNameFromURL(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("FullNameFromURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
