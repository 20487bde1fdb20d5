package sessions

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Detector decides whether a session's editor process is still alive. PID
// liveness alone is unreliable: on some platforms the editor's launch
// wrapper exits immediately and hands the real process a different PID. The
// detector therefore runs three checks in order:
//
//  1. PID liveness plus a process-name substring match.
//  2. A window-title scan across the editor's processes. Each session
//     renders a unique "#<issue>" and short repo name into its window
//     title, which makes this the reliable check where it is available.
//  3. A process command-line scan for the session folder path.
type Detector struct {
	goos       string
	editorName string
	run        func(name string, args ...string) (string, error)
}

// NewDetector creates a detector for the current platform.
func NewDetector(editorName string) *Detector {
	if editorName == "" {
		editorName = "code"
	}
	return &Detector{
		goos:       runtime.GOOS,
		editorName: editorName,
		run:        runCommand,
	}
}

func runCommand(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).Output()
	return string(out), err
}

// EditorRunning reports whether the editor for a session is alive.
// titleToken is the unique window-title fragment the session rendered into
// its workspace file ("shortrepo #42").
func (d *Detector) EditorRunning(sess Session, titleToken string) bool {
	if d.pidAlive(sess.EditorPID) {
		return true
	}
	if d.windowTitleMatch(titleToken) {
		return true
	}
	return d.commandLineMatch(sess.Folder)
}

// pidAlive checks that the recorded PID exists and still names the editor.
func (d *Detector) pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	var out string
	var err error
	if d.goos == "windows" {
		out, err = d.run("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/NH")
	} else {
		out, err = d.run("ps", "-p", fmt.Sprintf("%d", pid), "-o", "comm=")
	}
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(out), d.editorName)
}

// windowTitleMatch scans editor window titles for the session's unique
// token. Only Windows exposes MainWindowTitle through a stock tool; on other
// platforms wmctrl is used when present and the check silently falls
// through otherwise.
func (d *Detector) windowTitleMatch(titleToken string) bool {
	if titleToken == "" {
		return false
	}
	var out string
	var err error
	if d.goos == "windows" {
		out, err = d.run("powershell", "-NoProfile", "-Command",
			fmt.Sprintf("Get-Process %s -ErrorAction SilentlyContinue | Select-Object -ExpandProperty MainWindowTitle", d.editorName))
	} else {
		out, err = d.run("wmctrl", "-l")
	}
	if err != nil {
		return false
	}
	return strings.Contains(out, titleToken)
}

// commandLineMatch scans full process command lines for the session folder.
func (d *Detector) commandLineMatch(folder string) bool {
	if folder == "" {
		return false
	}
	var out string
	var err error
	if d.goos == "windows" {
		out, err = d.run("powershell", "-NoProfile", "-Command",
			"Get-CimInstance Win32_Process | Select-Object -ExpandProperty CommandLine")
	} else {
		out, err = d.run("ps", "-eo", "args=")
	}
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, folder) && strings.Contains(strings.ToLower(line), d.editorName) {
			return true
		}
	}
	return false
}

// TitleToken builds the unique window-title fragment for a session: the
// short repository name and "#<issue>". The workspace file renders the same
// fragment into the editor's window title, which is what makes the
// window-title scan reliable.
func TitleToken(repo string, issueNumber int) string {
	short := repo
	if idx := strings.LastIndex(repo, "/"); idx >= 0 {
		short = repo[idx+1:]
	}
	return fmt.Sprintf("%s #%d", short, issueNumber)
}
