package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mcp-coder/coordinator/internal/config"
	"github.com/mcp-coder/coordinator/internal/coordinator"
	"github.com/mcp-coder/coordinator/internal/githubapi"
	"github.com/mcp-coder/coordinator/internal/issuecache"
	"github.com/mcp-coder/coordinator/internal/metrics"
	"github.com/mcp-coder/coordinator/internal/sessions"
)

func newVSCodeClaudeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vscodeclaude",
		Short: "Manage attended editor sessions for human_action issues",
	}
	cmd.AddCommand(newSessionsRunCommand())
	cmd.AddCommand(newSessionsListCommand())
	cmd.AddCommand(newSessionsCleanupCommand())
	cmd.AddCommand(newSessionsOpenCommand())
	return cmd
}

// sessionEnv bundles everything the session commands need.
type sessionEnv struct {
	cfg     *config.Config
	token   string
	cache   *issuecache.Cache
	manager *sessions.Manager
	store   *sessions.Store
}

func newSessionEnv() (*sessionEnv, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, coordinator.AsUser(err)
	}
	schema, err := loadSchema()
	if err != nil {
		return nil, coordinator.AsUser(err)
	}
	cache, err := openCache()
	if err != nil {
		return nil, err
	}
	storePath, err := sessions.DefaultStorePath()
	if err != nil {
		return nil, err
	}
	store, err := sessions.NewStore(storePath)
	if err != nil {
		return nil, err
	}
	token, err := cfg.GitHubToken()
	if err != nil {
		return nil, coordinator.AsUser(err)
	}
	manager := sessions.NewManager(store, schema, sessions.NewDetector(editorName()),
		sessions.NewPreparer(editorName()), cfg.Coordinator.VSCodeClaude, cfg.GitHub.AutomationUser)
	return &sessionEnv{cfg: cfg, token: token, cache: cache, manager: manager, store: store}, nil
}

func editorName() string {
	if name := os.Getenv("MCP_CODER_EDITOR"); name != "" {
		return name
	}
	return "code"
}

// snapshotRepo fetches a repository's issues, keeping session-tracked issue
// numbers visible even after they close.
func (e *sessionEnv) snapshotRepo(cmd *cobra.Command, name string) (string, config.Repo, []githubapi.Issue, error) {
	repoCfg, err := e.cfg.ValidateRepo(name)
	if err != nil {
		return "", config.Repo{}, nil, coordinator.AsUser(err)
	}
	full, err := githubapi.FullNameFromURL(repoCfg.RepoURL)
	if err != nil {
		return "", config.Repo{}, nil, coordinator.AsUser(err)
	}
	tracked, err := e.manager.TrackedIssueNumbers(full)
	if err != nil {
		return "", config.Repo{}, nil, err
	}
	gh := githubapi.NewClient(full, e.token)
	issues, err := e.cache.Snapshot(cmd.Context(), full, gh, issuecache.SnapshotOptions{
		AdditionalNumbers: tracked,
	})
	if err != nil {
		return "", config.Repo{}, nil, coordinator.AsUser(err)
	}
	return full, repoCfg, issues, nil
}

func newSessionsRunCommand() *cobra.Command {
	var doCleanup bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile existing sessions and open new ones for eligible issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newSessionEnv()
			if err != nil {
				return err
			}
			names := env.cfg.RepoNames()
			if len(names) == 0 {
				return coordinator.AsUser(fmt.Errorf("No repositories configured"))
			}
			mets := metrics.NewMetrics()
			for _, name := range names {
				full, repoCfg, issues, err := env.snapshotRepo(cmd, name)
				if err != nil {
					return err
				}
				actions, err := env.manager.Reconcile(cmd.Context(), full, issues, doCleanup)
				if err != nil {
					return coordinator.AsUser(err)
				}
				printActions(cmd, actions)
				for _, action := range actions {
					mets.SessionActions.WithLabelValues(string(action.Kind)).Inc()
				}
				launched, err := env.manager.LaunchNew(cmd.Context(), full, repoCfg, issues)
				if err != nil {
					return coordinator.AsUser(err)
				}
				for _, sess := range launched {
					mets.SessionActions.WithLabelValues("launched").Inc()
					fmt.Fprintf(cmd.OutOrStdout(), "opened session for %s#%d at %s\n",
						sess.Repo, sess.IssueNumber, sess.Folder)
				}
			}
			if doc, err := env.store.Load(); err == nil {
				mets.SessionsLive.Set(float64(len(doc.Sessions)))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&doCleanup, "cleanup", false, "delete stale session folders with clean working trees")
	return cmd
}

func newSessionsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newSessionEnv()
			if err != nil {
				return err
			}
			doc, err := env.store.Load()
			if err != nil {
				return err
			}
			if len(doc.Sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REPO\tISSUE\tSTATUS\tPID\tSTARTED\tFOLDER")
			for _, sess := range doc.Sessions {
				mode := ""
				if sess.IsIntervention {
					mode = " (intervention)"
				}
				fmt.Fprintf(w, "%s\t#%d\t%s%s\t%d\t%s\t%s\n",
					sess.Repo, sess.IssueNumber, sess.Status, mode, sess.EditorPID,
					sess.StartedAt.Format("2006-01-02 15:04"), sess.Folder)
			}
			return w.Flush()
		},
	}
}

func newSessionsCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Reconcile sessions and delete stale folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newSessionEnv()
			if err != nil {
				return err
			}
			for _, name := range env.cfg.RepoNames() {
				full, _, issues, err := env.snapshotRepo(cmd, name)
				if err != nil {
					return err
				}
				actions, err := env.manager.Reconcile(cmd.Context(), full, issues, true)
				if err != nil {
					return coordinator.AsUser(err)
				}
				printActions(cmd, actions)
			}
			return nil
		},
	}
}

func newSessionsOpenCommand() *cobra.Command {
	var (
		repoName    string
		issueNumber int
	)

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Force-open an intervention session for one issue, whatever its label",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newSessionEnv()
			if err != nil {
				return err
			}
			repoCfg, err := env.cfg.ValidateRepo(repoName)
			if err != nil {
				return coordinator.AsUser(err)
			}
			full, err := githubapi.FullNameFromURL(repoCfg.RepoURL)
			if err != nil {
				return coordinator.AsUser(err)
			}
			gh := githubapi.NewClient(full, env.token)
			issue, err := gh.GetIssue(cmd.Context(), issueNumber)
			if err != nil {
				return coordinator.AsUser(err)
			}
			sess, err := env.manager.OpenIntervention(cmd.Context(), full, repoCfg, *issue)
			if err != nil {
				return coordinator.AsUser(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "opened intervention session for %s#%d at %s\n",
				sess.Repo, sess.IssueNumber, sess.Folder)
			return nil
		},
	}
	cmd.Flags().StringVar(&repoName, "repo", "", "configured repository name")
	cmd.Flags().IntVar(&issueNumber, "issue", 0, "issue number")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("issue")
	return cmd
}

func printActions(cmd *cobra.Command, actions []sessions.Action) {
	for _, action := range actions {
		line := fmt.Sprintf("%s: %s#%d %s", action.Kind, action.Session.Repo,
			action.Session.IssueNumber, action.Session.Folder)
		if action.Note != "" {
			line += " (" + action.Note + ")"
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
}
