package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcp-coder/coordinator/internal/cireconcile"
	"github.com/mcp-coder/coordinator/internal/config"
	"github.com/mcp-coder/coordinator/internal/coordinator"
	"github.com/mcp-coder/coordinator/internal/githubapi"
	"github.com/mcp-coder/coordinator/internal/gitops"
	"github.com/mcp-coder/coordinator/internal/jenkins"
	"github.com/mcp-coder/coordinator/internal/workflows"
)

func newBranchStatusCommand() *cobra.Command {
	var (
		repoName    string
		branch      string
		fix         bool
		maxAttempts int
		pollTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "check-branch-status",
		Short: "Report a branch's CI verdict, optionally fixing failures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return coordinator.AsUser(err)
			}
			repoCfg, err := cfg.ValidateRepo(repoName)
			if err != nil {
				return coordinator.AsUser(err)
			}
			full, err := githubapi.FullNameFromURL(repoCfg.RepoURL)
			if err != nil {
				return coordinator.AsUser(err)
			}
			token, err := cfg.GitHubToken()
			if err != nil {
				return coordinator.AsUser(err)
			}

			if branch == "" {
				branch, err = gitops.CurrentBranch(cmd.Context(), ".")
				if err != nil {
					return coordinator.AsUser(fmt.Errorf("no --branch given and no git repository here: %w", err))
				}
			}

			gh := githubapi.NewClient(full, token)
			reconciler := cireconcile.New(gh, nil, cireconcile.Options{
				MaxAttempts: maxAttempts,
				PollTimeout: pollTimeout,
			})
			verdict, runID, err := reconciler.CurrentVerdict(cmd.Context(), branch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "branch %s: CI %s\n", branch, verdict)

			if !fix {
				if verdict == cireconcile.VerdictFailed {
					return coordinator.AsUser(fmt.Errorf("branch %s CI is failing", branch))
				}
				return nil
			}

			creds, err := jenkins.ResolveCredentials(cfg.Jenkins.ServerURL, cfg.Jenkins.Username, cfg.Jenkins.APIToken)
			if err != nil {
				return coordinator.AsUser(err)
			}
			executor := jenkins.NewClient(creds)
			invoker := fixInvoker(executor, repoCfg)
			reconciler = cireconcile.New(gh, invoker, cireconcile.Options{
				MaxAttempts: maxAttempts,
				PollTimeout: pollTimeout,
			})
			if err := reconciler.Reconcile(cmd.Context(), branch, verdict, runID); err != nil {
				return coordinator.AsUser(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "branch %s: CI green\n", branch)
			return nil
		},
	}
	cmd.Flags().StringVar(&repoName, "repo", "", "configured repository name")
	cmd.Flags().StringVar(&branch, "branch", "", "branch to check (default: current branch)")
	cmd.Flags().BoolVar(&fix, "fix", false, "dispatch fix workflows until CI passes or attempts run out")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 3, "fix attempts before giving up")
	cmd.Flags().DurationVar(&pollTimeout, "timeout", 3*time.Minute, "per-attempt wait for the new CI run")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

// fixInvoker submits one fix-ci workflow run to the executor.
func fixInvoker(executor *jenkins.Client, repoCfg config.Repo) cireconcile.FixInvoker {
	return func(ctx context.Context, branch string, attempt int) error {
		osName, err := workflows.NormalizeOS(repoCfg.ExecutorOS)
		if err != nil {
			return err
		}
		script, err := workflows.FixCI.Render(osName, workflows.Substitutions{
			LogLevel:   logLevel,
			BranchName: branch,
		})
		if err != nil {
			return err
		}
		queueID, err := executor.Submit(ctx, repoCfg.ExecutorJobPath, jenkins.JobParams{
			RepoURL:       repoCfg.RepoURL,
			Branch:        branch,
			Command:       script,
			CredentialsID: repoCfg.GitHubCredentialsID,
		})
		if err != nil {
			return err
		}
		log.Printf("[CIReconcile] fix attempt %d queued as %d", attempt, queueID)
		return nil
	}
}
