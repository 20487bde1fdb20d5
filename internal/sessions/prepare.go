package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcp-coder/coordinator/internal/config"
	"github.com/mcp-coder/coordinator/internal/githubapi"
	"github.com/mcp-coder/coordinator/internal/gitops"
)

// sessionDirName holds the per-session files inside the working folder. It
// is added to the repo's .gitignore so sessions never dirty the tree.
const sessionDirName = ".mcp_coder_session"

// mcpConfigFile must exist in the repository for an attended session to be
// useful; its absence means the repo was never set up for the assistant.
const mcpConfigFile = ".mcp.json"

const interventionBanner = `> [!WARNING]
> INTERVENTION MODE. This session was force-opened on a bot_busy issue.
> No automation will touch this issue until its label is corrected manually.
`

// Preparer materializes a session working folder and launches the editor.
type Preparer struct {
	editorCmd string
	// launch starts the editor detached and returns its PID. Swappable in
	// tests; the default uses exec.Start and releases the process.
	launch func(ctx context.Context, workspaceFile string) (int, error)
}

// NewPreparer creates a preparer that launches editorCmd (default "code").
func NewPreparer(editorCmd string) *Preparer {
	if editorCmd == "" {
		editorCmd = "code"
	}
	p := &Preparer{editorCmd: editorCmd}
	p.launch = p.launchEditor
	return p
}

// Prepare runs the full folder-preparation sequence for a session and
// returns the launched editor's PID. Steps, in order: clone-or-update the
// repository, verify the MCP config file, run the per-OS setup commands,
// extend .gitignore, write the workspace/startup/status files, launch the
// editor detached.
func (p *Preparer) Prepare(ctx context.Context, sess Session, repoCfg config.Repo, issue githubapi.Issue, branch string) (int, error) {
	if err := gitops.CloneOrUpdate(ctx, repoCfg.RepoURL, branch, sess.Folder); err != nil {
		return 0, fmt.Errorf("prepare %s: %w", sess.Folder, err)
	}

	if _, err := os.Stat(filepath.Join(sess.Folder, mcpConfigFile)); err != nil {
		return 0, fmt.Errorf("prepare %s: required %s missing from repository", sess.Folder, mcpConfigFile)
	}

	if err := p.runSetupCommands(ctx, sess.Folder, repoCfg.SetupCommands(repoCfg.ExecutorOS)); err != nil {
		return 0, err
	}

	if err := gitops.EnsureGitignoreBlock(sess.Folder, "mcp-coder attended session", []string{
		sessionDirName + "/",
	}); err != nil {
		return 0, fmt.Errorf("prepare %s: %w", sess.Folder, err)
	}

	if err := p.WriteSessionFiles(sess, issue); err != nil {
		return 0, err
	}

	pid, err := p.launch(ctx, p.workspacePath(sess))
	if err != nil {
		return 0, fmt.Errorf("launch editor for %s: %w", sess.Folder, err)
	}
	return pid, nil
}

// runSetupCommands executes each configured setup command in the folder.
// The executable of every command is resolved against PATH before anything
// runs, so a typo fails the whole batch up front.
func (p *Preparer) runSetupCommands(ctx context.Context, folder string, commands []string) error {
	type parsed struct {
		name string
		args []string
	}
	resolved := make([]parsed, 0, len(commands))
	for _, command := range commands {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			continue
		}
		if _, err := exec.LookPath(fields[0]); err != nil {
			return fmt.Errorf("setup command %q: executable not found in PATH: %w", command, err)
		}
		resolved = append(resolved, parsed{name: fields[0], args: fields[1:]})
	}
	for _, cmd := range resolved {
		c := exec.CommandContext(ctx, cmd.name, cmd.args...)
		c.Dir = folder
		if out, err := c.CombinedOutput(); err != nil {
			return fmt.Errorf("setup command %q failed: %w\n%s", cmd.name, err, out)
		}
	}
	return nil
}

func (p *Preparer) sessionDir(sess Session) string {
	return filepath.Join(sess.Folder, sessionDirName)
}

func (p *Preparer) workspacePath(sess Session) string {
	return filepath.Join(p.sessionDir(sess), fmt.Sprintf("issue-%d.code-workspace", sess.IssueNumber))
}

// WriteSessionFiles materializes the workspace file, startup script, and
// status marker from the latest issue data. Restarting a session calls this
// again to regenerate everything before relaunching the editor.
func (p *Preparer) WriteSessionFiles(sess Session, issue githubapi.Issue) error {
	dir := p.sessionDir(sess)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	// Workspace file. The window title carries the unique session token so
	// the process detector can find this editor among its siblings.
	workspace := map[string]interface{}{
		"folders": []map[string]string{{"path": ".."}},
		"settings": map[string]interface{}{
			"window.title": TitleToken(sess.Repo, sess.IssueNumber) + " — ${activeEditorShort}",
		},
	}
	data, err := json.MarshalIndent(workspace, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal workspace file: %w", err)
	}
	if err := os.WriteFile(p.workspacePath(sess), data, 0o644); err != nil {
		return fmt.Errorf("write workspace file: %w", err)
	}

	// Startup script, for operators who relaunch by hand.
	script := fmt.Sprintf("#!/bin/sh\nexec %s --new-window %q\n", p.editorCmd, p.workspacePath(sess))
	if err := os.WriteFile(filepath.Join(dir, "start_session.sh"), []byte(script), 0o755); err != nil {
		return fmt.Errorf("write startup script: %w", err)
	}

	// Status marker with the issue snapshot the session was opened against.
	var b strings.Builder
	if sess.IsIntervention {
		b.WriteString(interventionBanner)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "# %s#%d: %s\n\n", sess.Repo, sess.IssueNumber, issue.Title)
	fmt.Fprintf(&b, "- Status label: %s\n", sess.Status)
	fmt.Fprintf(&b, "- Issue: %s\n", issue.URL)
	fmt.Fprintf(&b, "- Session started: %s\n\n", sess.StartedAt.UTC().Format(time.RFC3339))
	if issue.Body != "" {
		b.WriteString(issue.Body)
		b.WriteString("\n")
	}
	if err := os.WriteFile(filepath.Join(dir, "SESSION_STATUS.md"), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write status marker: %w", err)
	}
	return nil
}

// Relaunch starts a fresh editor for an existing session, after the session
// files have been regenerated, and returns the new PID.
func (p *Preparer) Relaunch(ctx context.Context, sess Session) (int, error) {
	return p.launch(ctx, p.workspacePath(sess))
}

// launchEditor starts the editor non-blocking and detached so it outlives
// the coordinator process.
func (p *Preparer) launchEditor(ctx context.Context, workspaceFile string) (int, error) {
	cmd := exec.CommandContext(ctx, p.editorCmd, "--new-window", workspaceFile)
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		log.Printf("[Sessions] release editor process %d: %v", pid, err)
	}
	return pid, nil
}

// CleanupFolder removes a stale session folder, but only when its working
// tree is clean; unpushed work is never deleted automatically.
func CleanupFolder(ctx context.Context, folder string) error {
	clean, err := gitops.IsClean(ctx, folder)
	if err != nil {
		return fmt.Errorf("cleanup %s: %w", folder, err)
	}
	if !clean {
		return fmt.Errorf("cleanup %s: working tree not clean, manual cleanup required", folder)
	}
	if err := os.RemoveAll(folder); err != nil {
		return fmt.Errorf("cleanup %s: %w", folder, err)
	}
	return nil
}
