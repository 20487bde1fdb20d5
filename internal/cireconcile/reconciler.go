// Package cireconcile drives the bounded fix loop behind
// "check-branch-status --fix": observe a branch's CI verdict, trigger the
// fix workflow on failure, wait for the resulting run, repeat until the
// branch is green or the attempt budget is spent.
package cireconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mcp-coder/coordinator/internal/githubapi"
)

// Verdict is the terminal classification of a branch's CI state.
type Verdict string

const (
	VerdictPassed  Verdict = "PASSED"
	VerdictFailed  Verdict = "FAILED"
	VerdictUnknown Verdict = "unknown"
)

// newRunWindow bounds how long a fix invocation gets to produce a run with
// a fresh ID before the attempt is declared lost.
const newRunWindow = 30 * time.Second

// RunLister fetches recent CI runs for a branch, newest first.
type RunLister interface {
	ListWorkflowRuns(ctx context.Context, branch string) ([]githubapi.WorkflowRun, error)
}

// FixInvoker triggers one fix-workflow attempt for the branch. The attempt
// number is 1-based and only used for operator-facing output.
type FixInvoker func(ctx context.Context, branch string, attempt int) error

// Options tunes one reconciliation.
type Options struct {
	MaxAttempts int           // fix invocations before giving up
	PollTimeout time.Duration // per-attempt wait for the new run to finish
	PollEvery   time.Duration // interval between run polls
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 3 * time.Minute
	}
	if o.PollEvery <= 0 {
		o.PollEvery = 5 * time.Second
	}
	return o
}

// Reconciler runs the fix state machine for one branch.
type Reconciler struct {
	runs      RunLister
	fix       FixInvoker
	opts      Options
	runWindow time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

// New wires a reconciler. fix is invoked once per attempt.
func New(runs RunLister, fix FixInvoker, opts Options) *Reconciler {
	return &Reconciler{
		runs:      runs,
		fix:       fix,
		opts:      opts.withDefaults(),
		runWindow: newRunWindow,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CurrentVerdict classifies the newest completed run on the branch. Runs
// still in flight and branches with no runs at all are both unknown.
func (r *Reconciler) CurrentVerdict(ctx context.Context, branch string) (Verdict, int64, error) {
	runs, err := r.runs.ListWorkflowRuns(ctx, branch)
	if err != nil {
		return VerdictUnknown, 0, fmt.Errorf("list runs for %s: %w", branch, err)
	}
	if len(runs) == 0 {
		return VerdictUnknown, 0, nil
	}
	newest := runs[0]
	return classify(newest), newest.ID, nil
}

func classify(run githubapi.WorkflowRun) Verdict {
	if run.Status != "completed" {
		return VerdictUnknown
	}
	switch run.Conclusion {
	case "success":
		return VerdictPassed
	case "failure":
		return VerdictFailed
	default:
		return VerdictUnknown
	}
}

// Reconcile runs the fix loop. initial is the verdict already observed by
// the caller and lastRunID the run it came from; anything other than FAILED
// returns immediately. Each attempt invokes the fix workflow, waits up to
// 30 seconds for a run with a new ID to appear, then polls that run to
// completion within the configured timeout. A green run ends the loop; a
// red one consumes the attempt.
func (r *Reconciler) Reconcile(ctx context.Context, branch string, initial Verdict, lastRunID int64) error {
	if initial != VerdictFailed {
		log.Printf("[CIReconcile] branch %s verdict %s, nothing to fix", branch, initial)
		return nil
	}

	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		log.Printf("[CIReconcile] branch %s attempt %d/%d: invoking fix workflow",
			branch, attempt, r.opts.MaxAttempts)
		if err := r.fix(ctx, branch, attempt); err != nil {
			return fmt.Errorf("fix attempt %d: %w", attempt, err)
		}

		runID, err := r.waitForNewRun(ctx, branch, lastRunID)
		if err != nil {
			return fmt.Errorf("fix attempt %d: %w", attempt, err)
		}

		verdict, err := r.waitForCompletion(ctx, branch, runID)
		if err != nil {
			return fmt.Errorf("fix attempt %d: %w", attempt, err)
		}
		log.Printf("[CIReconcile] branch %s run %d finished %s", branch, runID, verdict)
		if verdict == VerdictPassed {
			return nil
		}
		lastRunID = runID
	}
	return fmt.Errorf("branch %s still failing after %d fix attempts", branch, r.opts.MaxAttempts)
}

// waitForNewRun polls until the newest run's ID changes from lastRunID.
// Runs list newest-first; older runs in the history never count as new.
func (r *Reconciler) waitForNewRun(ctx context.Context, branch string, lastRunID int64) (int64, error) {
	deadline := time.Now().Add(r.runWindow)
	for {
		runs, err := r.runs.ListWorkflowRuns(ctx, branch)
		if err != nil {
			return 0, fmt.Errorf("list runs for %s: %w", branch, err)
		}
		if len(runs) > 0 && runs[0].ID != lastRunID {
			return runs[0].ID, nil
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("no new CI run on %s within %s", branch, r.runWindow)
		}
		if err := r.sleep(ctx, r.opts.PollEvery); err != nil {
			return 0, err
		}
	}
}

// waitForCompletion polls one run until it completes or the per-attempt
// timeout expires.
func (r *Reconciler) waitForCompletion(ctx context.Context, branch string, runID int64) (Verdict, error) {
	deadline := time.Now().Add(r.opts.PollTimeout)
	for {
		runs, err := r.runs.ListWorkflowRuns(ctx, branch)
		if err != nil {
			return VerdictUnknown, fmt.Errorf("list runs for %s: %w", branch, err)
		}
		for _, run := range runs {
			if run.ID != runID {
				continue
			}
			if v := classify(run); run.Status == "completed" {
				return v, nil
			}
		}
		if time.Now().After(deadline) {
			return VerdictUnknown, fmt.Errorf("run %d on %s did not complete within %s",
				runID, branch, r.opts.PollTimeout)
		}
		if err := r.sleep(ctx, r.opts.PollEvery); err != nil {
			return VerdictUnknown, err
		}
	}
}
