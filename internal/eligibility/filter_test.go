package eligibility

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mcp-coder/coordinator/internal/githubapi"
	"github.com/mcp-coder/coordinator/internal/labels"
)

func mustRegistry(t *testing.T) *labels.Registry {
	t.Helper()
	r, err := labels.Load()
	if err != nil {
		t.Fatalf("labels.Load failed: %v", err)
	}
	return r
}

func issue(number int, state string, labelNames ...string) githubapi.Issue {
	return githubapi.Issue{Number: number, State: state, Labels: labelNames}
}

func numbers(issues []githubapi.Issue) []int {
	out := make([]int, len(issues))
	for i, is := range issues {
		out[i] = is.Number
	}
	return out
}

func TestFilterBotPickup(t *testing.T) {
	reg := mustRegistry(t)
	input := []githubapi.Issue{
		issue(1, "open", "status-02:awaiting-planning"),
		issue(2, "closed", "status-02:awaiting-planning"),
		issue(3, "open", "status-02:awaiting-planning", "wip"),
		issue(4, "open", "status-05:plan-ready"),
		issue(5, "open", "status-04:plan-review"),
		issue(6, "open", "bug", "enhancement"),
		issue(7, "open", "status-05:plan-ready", "status-08:ready-pr"),
		issue(8, "open", "status-08:ready-pr", "test"),
	}

	eligible, report := Filter(input, reg, labels.CategoryBotPickup)

	// Priority descending: ready-pr (8), plan-ready (4), awaiting-planning (1).
	if diff := cmp.Diff([]int{8, 4, 1}, numbers(eligible)); diff != "" {
		t.Errorf("eligible order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{6}, numbers(report.NoStatus)); diff != "" {
		t.Errorf("no-status bucket (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{7}, numbers(report.MultiStatus)); diff != "" {
		t.Errorf("multi-status bucket (-want +got):\n%s", diff)
	}
}

func TestFilterHumanAction(t *testing.T) {
	reg := mustRegistry(t)
	input := []githubapi.Issue{
		issue(1, "open", "status-02:awaiting-planning"),
		issue(2, "open", "status-04:plan-review"),
		issue(3, "open", "status-07:code-review"),
	}

	eligible, report := Filter(input, reg, labels.CategoryHumanAction)
	if diff := cmp.Diff([]int{3, 2}, numbers(eligible)); diff != "" {
		t.Errorf("human-action order (-want +got):\n%s", diff)
	}
	if !report.Empty() {
		t.Errorf("unexpected validation report: %+v", report)
	}
}

func TestFilterTieBreakByNumber(t *testing.T) {
	reg := mustRegistry(t)
	input := []githubapi.Issue{
		issue(30, "open", "status-02:awaiting-planning"),
		issue(10, "open", "status-02:awaiting-planning"),
		issue(20, "open", "status-02:awaiting-planning"),
	}
	eligible, _ := Filter(input, reg, labels.CategoryBotPickup)
	if diff := cmp.Diff([]int{10, 20, 30}, numbers(eligible)); diff != "" {
		t.Errorf("tie-break order (-want +got):\n%s", diff)
	}
}

func TestFilterIsIdempotent(t *testing.T) {
	reg := mustRegistry(t)
	input := []githubapi.Issue{
		issue(3, "open", "status-08:ready-pr"),
		issue(1, "open", "status-02:awaiting-planning"),
		issue(2, "open", "status-05:plan-ready"),
	}
	once, _ := Filter(input, reg, labels.CategoryBotPickup)
	twice, _ := Filter(once, reg, labels.CategoryBotPickup)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("filter not idempotent (-once +twice):\n%s", diff)
	}
}

func TestMultiCategoryIssueNeverDispatchable(t *testing.T) {
	reg := mustRegistry(t)
	// Two status labels from different categories: neither caller sees it.
	input := []githubapi.Issue{
		issue(12, "open", "status-05:plan-ready", "status-04:plan-review"),
	}
	pickup, pickupReport := Filter(input, reg, labels.CategoryBotPickup)
	human, humanReport := Filter(input, reg, labels.CategoryHumanAction)
	if len(pickup) != 0 || len(human) != 0 {
		t.Errorf("multi-status issue leaked into a dispatch list")
	}
	if len(pickupReport.MultiStatus) != 1 || len(humanReport.MultiStatus) != 1 {
		t.Errorf("multi-status issue missing from validation report")
	}
}
