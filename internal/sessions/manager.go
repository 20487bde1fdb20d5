package sessions

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcp-coder/coordinator/internal/config"
	"github.com/mcp-coder/coordinator/internal/eligibility"
	"github.com/mcp-coder/coordinator/internal/githubapi"
	"github.com/mcp-coder/coordinator/internal/labels"
)

// EditorDetector reports whether a session's editor process is alive.
type EditorDetector interface {
	EditorRunning(sess Session, titleToken string) bool
}

// FolderPreparer materializes session folders and launches editors.
type FolderPreparer interface {
	Prepare(ctx context.Context, sess Session, repoCfg config.Repo, issue githubapi.Issue, branch string) (int, error)
	WriteSessionFiles(sess Session, issue githubapi.Issue) error
	Relaunch(ctx context.Context, sess Session) (int, error)
}

// ActionKind classifies one reconciliation outcome.
type ActionKind string

const (
	ActionOrphanRemoved ActionKind = "orphan-removed"
	ActionActive        ActionKind = "active"
	ActionStaleCleaned  ActionKind = "stale-cleaned"
	ActionManualCleanup ActionKind = "manual-cleanup"
	ActionRestarted     ActionKind = "restarted"
)

// Action is one reconciliation decision, reported to the operator.
type Action struct {
	Kind    ActionKind
	Session Session
	Note    string
}

// Manager reconciles the session document against the filesystem, the
// editor process table, and GitHub, and opens new sessions for eligible
// human_action issues.
type Manager struct {
	store          *Store
	schema         *labels.Registry
	detector       EditorDetector
	preparer       FolderPreparer
	cleanup        func(ctx context.Context, folder string) error
	workspaceBase  string
	maxSessions    int
	automationUser string
	now            func() time.Time
}

// NewManager wires a session manager.
func NewManager(store *Store, schema *labels.Registry, detector EditorDetector, preparer FolderPreparer, cfg config.VSCodeClaude, automationUser string) *Manager {
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 3
	}
	return &Manager{
		store:          store,
		schema:         schema,
		detector:       detector,
		preparer:       preparer,
		cleanup:        CleanupFolder,
		workspaceBase:  cfg.WorkspaceBase,
		maxSessions:    maxSessions,
		automationUser: automationUser,
		now:            time.Now,
	}
}

// Reconcile walks every stored session of the repository and brings the
// record, the folder, and the editor process back into agreement. A session
// is a triple that can lose any of its three legs independently; the rules:
//
//	folder gone            -> drop the record (orphan)
//	editor running         -> leave alone
//	issue moved or closed  -> stale: delete a clean folder, else report
//	issue unchanged        -> regenerate files, relaunch editor, new PID
func (m *Manager) Reconcile(ctx context.Context, repo string, issues []githubapi.Issue, doCleanup bool) ([]Action, error) {
	doc, err := m.store.Load()
	if err != nil {
		return nil, err
	}

	byNumber := make(map[int]githubapi.Issue, len(issues))
	for _, issue := range issues {
		byNumber[issue.Number] = issue
	}

	var actions []Action
	for _, sess := range doc.Sessions {
		if sess.Repo != repo {
			continue
		}

		if _, err := os.Stat(sess.Folder); err != nil {
			if err := m.store.Remove(sess.Folder); err != nil {
				return actions, err
			}
			actions = append(actions, Action{Kind: ActionOrphanRemoved, Session: sess})
			continue
		}

		if m.detector.EditorRunning(sess, TitleToken(sess.Repo, sess.IssueNumber)) {
			actions = append(actions, Action{Kind: ActionActive, Session: sess})
			continue
		}

		issue, known := byNumber[sess.IssueNumber]
		stable := known && issue.IsOpen() && issue.HasLabel(sess.Status)
		if sess.IsIntervention {
			// Intervention sessions never restart automatically; once the
			// editor is gone they are stale by definition.
			stable = false
		}

		if !stable {
			actions = append(actions, m.retire(ctx, sess, doCleanup))
			continue
		}

		// Same label, editor gone: restart with fresh issue data.
		if err := m.preparer.WriteSessionFiles(sess, issue); err != nil {
			return actions, fmt.Errorf("restart %s#%d: %w", sess.Repo, sess.IssueNumber, err)
		}
		pid, err := m.preparer.Relaunch(ctx, sess)
		if err != nil {
			return actions, fmt.Errorf("restart %s#%d: %w", sess.Repo, sess.IssueNumber, err)
		}
		sess.EditorPID = pid
		if err := m.store.Upsert(sess); err != nil {
			return actions, err
		}
		actions = append(actions, Action{Kind: ActionRestarted, Session: sess})
	}
	return actions, nil
}

// retire handles a stale session: remove a clean folder, otherwise leave
// everything in place and tell the operator.
func (m *Manager) retire(ctx context.Context, sess Session, doCleanup bool) Action {
	if !doCleanup {
		return Action{Kind: ActionManualCleanup, Session: sess,
			Note: "stale session; re-run with --cleanup to remove"}
	}
	if err := m.cleanup(ctx, sess.Folder); err != nil {
		return Action{Kind: ActionManualCleanup, Session: sess, Note: err.Error()}
	}
	if err := m.store.Remove(sess.Folder); err != nil {
		log.Printf("[Sessions] remove record %s: %v", sess.Folder, err)
	}
	return Action{Kind: ActionStaleCleaned, Session: sess}
}

// LaunchNew opens sessions for eligible human_action issues, bounded by the
// global session cap. Eligibility mirrors the dispatch filter plus two extra
// conditions: the automation user must be assigned, and the repository must
// still be configured (the caller proves the latter by passing repoCfg).
func (m *Manager) LaunchNew(ctx context.Context, repo string, repoCfg config.Repo, issues []githubapi.Issue) ([]Session, error) {
	if m.automationUser == "" {
		log.Printf("[Sessions] no automation_user configured, skipping session launch for %s", repo)
		return nil, nil
	}
	if m.workspaceBase == "" {
		return nil, fmt.Errorf("workspace_base not configured")
	}

	doc, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	live := len(doc.Sessions)

	eligible, _ := eligibility.Filter(issues, m.schema, labels.CategoryHumanAction)
	var launched []Session
	for _, issue := range eligible {
		if live >= m.maxSessions {
			log.Printf("[Sessions] session cap %d reached, deferring remaining issues", m.maxSessions)
			break
		}
		if !issue.HasAssignee(m.automationUser) {
			continue
		}
		if _, exists, err := m.store.FindByIssue(repo, issue.Number); err != nil {
			return launched, err
		} else if exists {
			continue
		}

		status := eligibility.StatusLabels(issue, m.schema)[0]
		sess, err := m.open(ctx, repo, repoCfg, issue, status, false)
		if err != nil {
			return launched, err
		}
		launched = append(launched, sess)
		live++
	}
	return launched, nil
}

// OpenIntervention force-opens a session for an issue regardless of its
// label category, bot_busy included. The status file carries a conspicuous
// banner and no automation is triggered for the session.
func (m *Manager) OpenIntervention(ctx context.Context, repo string, repoCfg config.Repo, issue githubapi.Issue) (Session, error) {
	if m.workspaceBase == "" {
		return Session{}, fmt.Errorf("workspace_base not configured")
	}
	if _, exists, err := m.store.FindByIssue(repo, issue.Number); err != nil {
		return Session{}, err
	} else if exists {
		return Session{}, fmt.Errorf("session for %s#%d already exists", repo, issue.Number)
	}

	status := ""
	if labels := eligibility.StatusLabels(issue, m.schema); len(labels) > 0 {
		status = labels[0]
	}
	return m.open(ctx, repo, repoCfg, issue, status, true)
}

func (m *Manager) open(ctx context.Context, repo string, repoCfg config.Repo, issue githubapi.Issue, status string, intervention bool) (Session, error) {
	sess := Session{
		Folder:         m.sessionFolder(repo, issue.Number),
		Repo:           repo,
		IssueNumber:    issue.Number,
		Status:         status,
		StartedAt:      m.now().UTC(),
		IsIntervention: intervention,
	}
	pid, err := m.preparer.Prepare(ctx, sess, repoCfg, issue, "")
	if err != nil {
		return Session{}, err
	}
	sess.EditorPID = pid
	if err := m.store.Upsert(sess); err != nil {
		return Session{}, err
	}
	log.Printf("[Sessions] opened session for %s#%d at %s (pid %d, intervention=%t)",
		repo, issue.Number, sess.Folder, pid, intervention)
	return sess, nil
}

func (m *Manager) sessionFolder(repo string, issueNumber int) string {
	return filepath.Join(m.workspaceBase,
		fmt.Sprintf("%s-issue-%d", strings.ReplaceAll(repo, "/", "-"), issueNumber))
}

// TrackedIssueNumbers returns the issue numbers of the repository's stored
// sessions, for the cache's AdditionalNumbers so closed issues stay visible
// to reconciliation.
func (m *Manager) TrackedIssueNumbers(repo string) ([]int, error) {
	doc, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	var numbers []int
	for _, sess := range doc.Sessions {
		if sess.Repo == repo {
			numbers = append(numbers, sess.IssueNumber)
		}
	}
	return numbers, nil
}
