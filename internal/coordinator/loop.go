// Package coordinator drives one sweep: load config, resolve credentials,
// snapshot each repository's open issues, filter for bot_pickup eligibility
// and dispatch, fail-fast on the first non-validation error.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/mcp-coder/coordinator/internal/config"
	"github.com/mcp-coder/coordinator/internal/dispatch"
	"github.com/mcp-coder/coordinator/internal/eligibility"
	"github.com/mcp-coder/coordinator/internal/githubapi"
	"github.com/mcp-coder/coordinator/internal/issuecache"
	"github.com/mcp-coder/coordinator/internal/jenkins"
	"github.com/mcp-coder/coordinator/internal/labels"
	"github.com/mcp-coder/coordinator/internal/metrics"
	"github.com/mcp-coder/coordinator/internal/telemetry"
)

// GitHubService is the per-repository GitHub surface the sweep needs: the
// cache fetcher plus the dispatcher's label and branch operations.
type GitHubService interface {
	issuecache.Fetcher
	dispatch.IssueAPI
}

// Options tunes a sweep.
type Options struct {
	LogLevel     string
	ForceRefresh bool
}

// Loop owns the per-invocation wiring of one coordinator sweep. The GitHub
// and executor constructors are swappable for tests; the defaults build the
// gh-CLI client and the Jenkins HTTP client.
type Loop struct {
	cfg    *config.Config
	schema *labels.Registry
	cache  *issuecache.Cache
	mets   *metrics.Metrics
	opts   Options
	stdout io.Writer
	stderr io.Writer

	newGitHub   func(repoFullName, token string) GitHubService
	newExecutor func(creds jenkins.Credentials) dispatch.Executor
	credentials func() (jenkins.Credentials, error)
	githubToken func() (string, error)
}

// New wires a sweep loop against the real GitHub CLI and Jenkins API.
func New(cfg *config.Config, schema *labels.Registry, cache *issuecache.Cache, opts Options) *Loop {
	return &Loop{
		cfg:    cfg,
		schema: schema,
		cache:  cache,
		mets:   metrics.NewMetrics(),
		opts:   opts,
		stdout: os.Stdout,
		stderr: os.Stderr,
		newGitHub: func(repoFullName, token string) GitHubService {
			return githubapi.NewClient(repoFullName, token)
		},
		newExecutor: func(creds jenkins.Credentials) dispatch.Executor {
			return jenkins.NewClient(creds)
		},
		credentials: func() (jenkins.Credentials, error) {
			return jenkins.ResolveCredentials(cfg.Jenkins.ServerURL, cfg.Jenkins.Username, cfg.Jenkins.APIToken)
		},
		githubToken: cfg.GitHubToken,
	}
}

// RepoResult summarizes one repository's share of a sweep.
type RepoResult struct {
	Repo       string
	Eligible   int
	Dispatched int
	Report     eligibility.Report
}

// Result summarizes a whole sweep.
type Result struct {
	Repos             []RepoResult
	Dispatched        int
	ValidationsFailed int
}

// Run performs one sweep across every configured repository, in sorted
// listing order. Validation failures are reported and skipped; the first
// non-validation dispatch error aborts the sweep.
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	result, err := l.run(ctx)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	l.mets.SweepsTotal.WithLabelValues(outcome).Inc()
	l.mets.SweepDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	return result, err
}

func (l *Loop) run(ctx context.Context) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.sweep")
	defer span.End()

	names := l.cfg.RepoNames()
	if len(names) == 0 {
		return nil, AsUser(errors.New("No repositories configured"))
	}

	token, err := l.githubToken()
	if err != nil {
		return nil, AsUser(fmt.Errorf("resolve GitHub token: %w", err))
	}
	creds, err := l.credentials()
	if err != nil {
		return nil, AsUser(err)
	}
	executor := l.newExecutor(creds)

	// Resolve and validate every repository before touching the remote, so
	// a config typo in the last repo does not waste a half sweep.
	type repoState struct {
		name   string
		full   string
		cfg    config.Repo
		gh     GitHubService
		issues []githubapi.Issue
	}
	states := make([]*repoState, 0, len(names))
	for _, name := range names {
		repoCfg, err := l.cfg.ValidateRepo(name)
		if err != nil {
			return nil, AsUser(err)
		}
		full, err := githubapi.FullNameFromURL(repoCfg.RepoURL)
		if err != nil {
			return nil, AsUser(fmt.Errorf("repo %s: %w", name, err))
		}
		states = append(states, &repoState{
			name: name,
			full: full,
			cfg:  repoCfg,
			gh:   l.newGitHub(full, token),
		})
	}

	// Prefetch all caches in parallel; dispatch stays sequential.
	g, gctx := errgroup.WithContext(ctx)
	for _, st := range states {
		st := st
		g.Go(func() error {
			issues, err := l.cache.Snapshot(gctx, st.full, st.gh, issuecache.SnapshotOptions{
				ForceRefresh: l.opts.ForceRefresh,
			})
			if err != nil {
				return fmt.Errorf("snapshot %s: %w", st.full, err)
			}
			st.issues = issues
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, issuecache.ErrCacheFetch) {
			return nil, AsUser(err)
		}
		return nil, err
	}

	result := &Result{}
	for _, st := range states {
		repoResult, err := l.sweepRepo(ctx, st.full, st.cfg, st.gh, executor, st.issues)
		result.Repos = append(result.Repos, repoResult)
		result.Dispatched += repoResult.Dispatched
		result.ValidationsFailed += repoResult.Eligible - repoResult.Dispatched
		if err != nil {
			return result, err
		}
	}

	l.printSummary(result)
	if result.ValidationsFailed > 0 {
		return result, AsUser(fmt.Errorf("%d issue(s) failed dispatch validation", result.ValidationsFailed))
	}
	return result, nil
}

// sweepRepo dispatches every eligible bot_pickup issue of one repository.
// Validation errors are written to stderr and counted; any other dispatch
// error aborts immediately.
func (l *Loop) sweepRepo(ctx context.Context, full string, repoCfg config.Repo, gh GitHubService, executor dispatch.Executor, issues []githubapi.Issue) (RepoResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.repo",
		attribute.String("repo", full))
	defer span.End()

	eligible, report := eligibility.Filter(issues, l.schema, labels.CategoryBotPickup)
	l.mets.IssuesSwept.WithLabelValues(full, string(labels.CategoryBotPickup)).Set(float64(len(eligible)))
	l.reportValidation(full, report)

	repoResult := RepoResult{Repo: full, Eligible: len(eligible), Report: report}
	d := dispatch.New(full, repoCfg, l.schema, gh, executor, l.cache, l.opts.LogLevel)

	for _, issue := range eligible {
		started := time.Now()
		outcome, err := d.Dispatch(ctx, issue)
		if err != nil {
			if dispatch.IsValidation(err) {
				fmt.Fprintln(l.stderr, err)
				l.mets.ValidationErrors.WithLabelValues(full, "dispatch").Inc()
				continue
			}
			l.mets.DispatchesTotal.WithLabelValues(full, "", "error").Inc()
			abort := fmt.Errorf("dispatch failed for %s#%d: %w", full, issue.Number, err)
			if dispatch.IsTransientRemote(err) {
				abort = fmt.Errorf("%w (transient remote error, re-run the sweep)", abort)
			}
			return repoResult, AsUser(abort)
		}
		repoResult.Dispatched++
		l.mets.DispatchesTotal.WithLabelValues(full, string(outcome.Workflow), "success").Inc()
		l.mets.DispatchDuration.WithLabelValues(full, string(outcome.Workflow)).Observe(time.Since(started).Seconds())
	}
	return repoResult, nil
}

// reportValidation prints the filter's validation buckets, mirroring the
// sweep summary format.
func (l *Loop) reportValidation(full string, report eligibility.Report) {
	if report.Empty() {
		return
	}
	if n := len(report.NoStatus); n > 0 {
		fmt.Fprintf(l.stderr, "%s: no status label: %d issue(s) %v\n", full, n, issueNumbers(report.NoStatus))
		l.mets.ValidationErrors.WithLabelValues(full, "no-status").Add(float64(n))
	}
	if n := len(report.MultiStatus); n > 0 {
		fmt.Fprintf(l.stderr, "%s: multiple status labels: %d issue(s) %v\n", full, n, issueNumbers(report.MultiStatus))
		l.mets.ValidationErrors.WithLabelValues(full, "multi-status").Add(float64(n))
	}
}

func issueNumbers(issues []githubapi.Issue) []int {
	numbers := make([]int, len(issues))
	for i, issue := range issues {
		numbers[i] = issue.Number
	}
	return numbers
}

func (l *Loop) printSummary(result *Result) {
	sort.Slice(result.Repos, func(i, j int) bool { return result.Repos[i].Repo < result.Repos[j].Repo })
	for _, repo := range result.Repos {
		log.Printf("[Coordinator] %s: %d eligible, %d dispatched", repo.Repo, repo.Eligible, repo.Dispatched)
	}
	fmt.Fprintf(l.stdout, "sweep complete: %d issue(s) dispatched across %d repositories\n",
		result.Dispatched, len(result.Repos))
}
