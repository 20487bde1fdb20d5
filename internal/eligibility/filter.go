// Package eligibility selects the issues a sweep may act on. The filter is
// deterministic and side-effect-free, which makes it the natural unit-test
// boundary between the issue cache and the dispatcher.
package eligibility

import (
	"sort"

	"github.com/mcp-coder/coordinator/internal/githubapi"
	"github.com/mcp-coder/coordinator/internal/labels"
)

// Report collects issues that failed status-label validation. They are
// surfaced to the operator but never dispatched; an issue with zero or two
// status labels usually means a label transition half-completed.
type Report struct {
	NoStatus    []githubapi.Issue
	MultiStatus []githubapi.Issue
}

// Empty reports whether validation found nothing to complain about.
func (r Report) Empty() bool {
	return len(r.NoStatus) == 0 && len(r.MultiStatus) == 0
}

// StatusLabels returns the issue's labels that the schema recognizes as
// workflow labels, in the issue's own label order.
func StatusLabels(issue githubapi.Issue, reg *labels.Registry) []string {
	var status []string
	for _, l := range issue.Labels {
		if reg.Classify(l) != labels.CategoryUnknown {
			status = append(status, l)
		}
	}
	return status
}

// Filter returns the issues carrying exactly one status label of the wanted
// category and no ignore label, sorted by descending label priority with
// issue number ascending as the tie-break. Closed issues are dropped.
func Filter(issues []githubapi.Issue, reg *labels.Registry, want labels.Category) ([]githubapi.Issue, Report) {
	var report Report
	eligible := make([]githubapi.Issue, 0, len(issues))
	ignore := reg.IgnoreSet()

	for _, issue := range issues {
		if !issue.IsOpen() {
			continue
		}
		ignored := false
		for _, l := range issue.Labels {
			if _, ok := ignore[l]; ok {
				ignored = true
				break
			}
		}
		if ignored {
			continue
		}

		status := StatusLabels(issue, reg)
		switch {
		case len(status) == 0:
			report.NoStatus = append(report.NoStatus, issue)
			continue
		case len(status) > 1:
			report.MultiStatus = append(report.MultiStatus, issue)
			continue
		}

		if reg.Classify(status[0]) != want {
			continue
		}
		eligible = append(eligible, issue)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		pi := reg.Priority(StatusLabels(eligible[i], reg)[0])
		pj := reg.Priority(StatusLabels(eligible[j], reg)[0])
		if pi != pj {
			return pi > pj
		}
		return eligible[i].Number < eligible[j].Number
	})

	return eligible, report
}
