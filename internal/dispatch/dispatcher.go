// Package dispatch turns one eligible issue into one executor submission and
// advances the issue's status label. The eight procedure steps run strictly
// in order; whichever fails names itself in the returned error.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/mcp-coder/coordinator/internal/config"
	"github.com/mcp-coder/coordinator/internal/eligibility"
	"github.com/mcp-coder/coordinator/internal/githubapi"
	"github.com/mcp-coder/coordinator/internal/jenkins"
	"github.com/mcp-coder/coordinator/internal/labels"
	"github.com/mcp-coder/coordinator/internal/workflows"
)

// IssueAPI is the slice of the GitHub client the dispatcher needs.
type IssueAPI interface {
	AddLabel(ctx context.Context, number int, label string) error
	RemoveLabel(ctx context.Context, number int, label string) error
	LinkedBranches(ctx context.Context, number int) ([]string, error)
}

// Executor submits jobs and resolves their status.
type Executor interface {
	Submit(ctx context.Context, jobPath string, params jenkins.JobParams) (int64, error)
	Status(ctx context.Context, queueID int64) (jenkins.Status, error)
}

// CachePatcher lets a successful dispatch update the issue cache in place so
// later issues in the same sweep see the new label state.
type CachePatcher interface {
	PatchLabels(repo string, number int, fromLabel, toLabel string) error
}

// Outcome describes one successful dispatch.
type Outcome struct {
	Issue        int
	Workflow     workflows.Workflow
	Branch       string
	RemovedLabel string
	AddedLabel   string
	QueueID      int64
	BuildURL     string // empty while the job is still queued
}

// Dispatcher dispatches issues of a single repository.
type Dispatcher struct {
	repo     string // "owner/repo"
	repoCfg  config.Repo
	schema   *labels.Registry
	github   IssueAPI
	executor Executor
	cache    CachePatcher
	logLevel string
	stdout   io.Writer
}

// New creates a dispatcher for one repository sweep.
func New(repo string, repoCfg config.Repo, schema *labels.Registry, gh IssueAPI, executor Executor, cache CachePatcher, logLevel string) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		repoCfg:  repoCfg,
		schema:   schema,
		github:   gh,
		executor: executor,
		cache:    cache,
		logLevel: logLevel,
		stdout:   os.Stdout,
	}
}

func (d *Dispatcher) fail(step Step, issue int, validation bool, err error) error {
	return &Error{Step: step, Issue: issue, Validation: validation, Err: err}
}

// Dispatch runs the full procedure for one eligible issue. The issue must
// already have passed the eligibility filter, so it carries exactly one
// bot_pickup status label.
func (d *Dispatcher) Dispatch(ctx context.Context, issue githubapi.Issue) (*Outcome, error) {
	// Step 1: resolve workflow and transition from the status label.
	status := eligibility.StatusLabels(issue, d.schema)
	if len(status) != 1 {
		return nil, d.fail(StepResolveWorkflow, issue.Number, true,
			fmt.Errorf("expected exactly one status label, have %v", status))
	}
	current := status[0]
	workflowID, err := d.schema.Workflow(current)
	if err != nil {
		return nil, d.fail(StepResolveWorkflow, issue.Number, true, err)
	}
	workflow, err := workflows.FromLabel(workflowID)
	if err != nil {
		return nil, d.fail(StepResolveWorkflow, issue.Number, true, err)
	}
	nextLabel, err := d.schema.NextLabel(current)
	if err != nil {
		return nil, d.fail(StepResolveWorkflow, issue.Number, true, err)
	}

	// Step 2: resolve the branch. Planning starts from the default branch;
	// everything later runs on the issue's single linked feature branch.
	branch := "main"
	if workflow.UsesLinkedBranch() {
		linked, err := d.github.LinkedBranches(ctx, issue.Number)
		if err != nil {
			return nil, d.fail(StepResolveBranch, issue.Number, true, err)
		}
		switch len(linked) {
		case 1:
			branch = linked[0]
		case 0:
			return nil, d.fail(StepResolveBranch, issue.Number, true,
				fmt.Errorf("No linked branch found for issue #%d", issue.Number))
		default:
			return nil, d.fail(StepResolveBranch, issue.Number, true,
				fmt.Errorf("issue #%d has %d linked branches, expected exactly one: %v", issue.Number, len(linked), linked))
		}
	}

	// Step 3: render the command script for the worker's OS.
	script, err := workflow.Render(workflows.OS(d.repoCfg.ExecutorOS), workflows.Substitutions{
		LogLevel:    d.logLevel,
		IssueNumber: issue.Number,
		BranchName:  branch,
	})
	if err != nil {
		return nil, d.fail(StepRenderScript, issue.Number, true, err)
	}

	// Step 4: submit to the executor.
	queueID, err := d.executor.Submit(ctx, d.repoCfg.ExecutorJobPath, jenkins.JobParams{
		RepoURL:       d.repoCfg.RepoURL,
		Branch:        branch,
		Command:       script,
		CredentialsID: d.repoCfg.GitHubCredentialsID,
	})
	if err != nil {
		return nil, d.fail(StepSubmit, issue.Number, false, err)
	}

	// Step 5: one status lookup for the build URL. Best-effort: the queue
	// handle alone is enough to proceed, so a failed lookup only warns.
	buildURL := ""
	if status, err := d.executor.Status(ctx, queueID); err != nil {
		log.Printf("[Dispatcher] %s#%d: status lookup for queue item %d failed: %v", d.repo, issue.Number, queueID, err)
	} else {
		buildURL = status.URL
	}

	// Step 6: advance the label. Two remote calls, not atomic. If the add
	// fails after the remove succeeded the issue sits with no status label;
	// the eligibility filter reports rather than re-dispatches it, and no
	// rollback is attempted since a transient read timeout could otherwise
	// cause a double dispatch.
	if err := d.github.RemoveLabel(ctx, issue.Number, current); err != nil {
		return nil, d.fail(StepAdvanceLabel, issue.Number, false,
			fmt.Errorf("remove label %q: %w", current, err))
	}
	if err := d.github.AddLabel(ctx, issue.Number, nextLabel); err != nil {
		log.Printf("[Dispatcher] WARNING: %s#%d: removed %q but failed to add %q; issue now has no status label and will surface as a validation error next sweep: %v",
			d.repo, issue.Number, current, nextLabel, err)
		return nil, d.fail(StepAdvanceLabel, issue.Number, false,
			fmt.Errorf("add label %q: %w", nextLabel, err))
	}

	// Step 7: patch the cache so the rest of this sweep sees the new state.
	if err := d.cache.PatchLabels(d.repo, issue.Number, current, nextLabel); err != nil {
		log.Printf("[Dispatcher] %s#%d: cache patch failed (remote remains authoritative): %v", d.repo, issue.Number, err)
	}

	// Step 8: one record for the operator.
	outcome := &Outcome{
		Issue:        issue.Number,
		Workflow:     workflow,
		Branch:       branch,
		RemovedLabel: current,
		AddedLabel:   nextLabel,
		QueueID:      queueID,
		BuildURL:     buildURL,
	}
	fmt.Fprintf(d.stdout, "dispatched %s workflow for issue #%d\n", workflow, issue.Number)
	log.Printf("[Dispatcher] %s#%d: workflow=%s branch=%s removed=%s added=%s queue=%d url=%s",
		d.repo, issue.Number, workflow, branch, current, nextLabel, queueID, buildURL)
	return outcome, nil
}
