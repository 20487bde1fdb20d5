package sessions

import (
	"fmt"
	"strings"
	"testing"
)

// scriptedRun fakes the external process tools the detector shells out to.
type scriptedRun struct {
	psComm  string // ps -p <pid> -o comm=
	titles  string // wmctrl -l
	cmdline string // ps -eo args=
	calls   []string
}

func (s *scriptedRun) run(name string, args ...string) (string, error) {
	s.calls = append(s.calls, name+" "+strings.Join(args, " "))
	switch {
	case name == "ps" && len(args) > 0 && args[0] == "-p":
		if s.psComm == "" {
			return "", fmt.Errorf("exit status 1")
		}
		return s.psComm, nil
	case name == "wmctrl":
		if s.titles == "" {
			return "", fmt.Errorf("exit status 1")
		}
		return s.titles, nil
	case name == "ps":
		return s.cmdline, nil
	}
	return "", fmt.Errorf("unexpected command %s", name)
}

func scriptedDetector(s *scriptedRun) *Detector {
	return &Detector{goos: "linux", editorName: "code", run: s.run}
}

func TestEditorRunningByPID(t *testing.T) {
	s := &scriptedRun{psComm: "code\n"}
	d := scriptedDetector(s)
	if !d.EditorRunning(Session{EditorPID: 42}, "foo #1") {
		t.Error("live editor PID not detected")
	}
}

func TestEditorRunningPIDReused(t *testing.T) {
	// PID exists but names a different process: must fall through and fail.
	s := &scriptedRun{psComm: "bash\n"}
	d := scriptedDetector(s)
	if d.EditorRunning(Session{EditorPID: 42, Folder: "/work/foo"}, "foo #1") {
		t.Error("reused PID counted as the editor")
	}
}

func TestEditorRunningByWindowTitle(t *testing.T) {
	s := &scriptedRun{titles: "0x04 0 host issue-7.code-workspace - foo #7 - Visual Studio Code\n"}
	d := scriptedDetector(s)
	if !d.EditorRunning(Session{EditorPID: 0}, "foo #7") {
		t.Error("window title token not detected")
	}
	if d.EditorRunning(Session{EditorPID: 0}, "foo #8") {
		t.Error("wrong issue number matched")
	}
}

func TestEditorRunningByCommandLine(t *testing.T) {
	s := &scriptedRun{cmdline: "/usr/share/code/code /work/acme-foo-issue-3\nbash\n"}
	d := scriptedDetector(s)
	if !d.EditorRunning(Session{Folder: "/work/acme-foo-issue-3"}, "") {
		t.Error("command line scan missed the session folder")
	}
	// Folder present in a non-editor command line must not match.
	s2 := &scriptedRun{cmdline: "tail -f /work/acme-foo-issue-3/log\n"}
	if scriptedDetector(s2).EditorRunning(Session{Folder: "/work/acme-foo-issue-3"}, "") {
		t.Error("non-editor process matched")
	}
}

func TestEditorRunningAllChecksFail(t *testing.T) {
	s := &scriptedRun{}
	d := scriptedDetector(s)
	if d.EditorRunning(Session{EditorPID: 42, Folder: "/work/x"}, "x #1") {
		t.Error("dead editor reported as running")
	}
	if len(s.calls) != 3 {
		t.Errorf("expected all three checks to run, got %v", s.calls)
	}
}
