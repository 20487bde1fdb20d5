package dispatch

import (
	"fmt"
	"strings"
)

// Step names the dispatch procedure stage that failed.
type Step string

const (
	StepResolveWorkflow Step = "resolve-workflow"
	StepResolveBranch   Step = "resolve-branch"
	StepRenderScript    Step = "render-script"
	StepSubmit          Step = "submit"
	StepObserve         Step = "observe"
	StepAdvanceLabel    Step = "advance-label"
	StepPatchCache      Step = "patch-cache"
)

// Error is a failed dispatch with its failing step named. Validation errors
// (steps 1-3) skip the issue; remote-IO errors (steps 4-6) abort the sweep
// before more work is dispatched.
type Error struct {
	Step       Step
	Issue      int
	Validation bool
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dispatch issue #%d: step %s: %v", e.Issue, e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsValidation reports whether err is a dispatch validation failure, meaning
// the sweep may continue with the next issue.
func IsValidation(err error) bool {
	de, ok := err.(*Error)
	return ok && de.Validation
}

// IsTransientRemote reports whether an error message looks like a transient
// network or rate-limit condition. The sweep still fails fast on these, but
// the operator message suggests a plain re-run instead of investigation.
func IsTransientRemote(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, fragment := range []string{
		"connection refused",
		"connection reset",
		"context deadline exceeded",
		"dial tcp",
		"no such host",
		"i/o timeout",
		"rate limit",
		"HTTP 429",
		"HTTP 500",
		"HTTP 502",
		"HTTP 503",
		"HTTP 504",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
