// Package workflows maps bot_pickup labels to the command scripts the remote
// executor runs. Workflows are a small closed set rather than a callback
// registry: the schema names one of them per label, and rendering picks the
// script text by (workflow, target OS).
package workflows

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Workflow identifies one automated stage of the issue lifecycle.
type Workflow string

const (
	// Plan generates an implementation plan from the issue description.
	Plan Workflow = "create-plan"
	// Implement executes an approved plan on the linked feature branch.
	Implement Workflow = "implement"
	// CreatePR opens a pull request for a finished implementation.
	CreatePR Workflow = "create-pr"
	// FixCI repairs a failing CI run on a branch. It is never dispatched
	// from a label; only the branch-status command submits it.
	FixCI Workflow = "fix-ci"
)

// OS is the executor worker's operating system.
type OS string

const (
	OSLinux   OS = "linux"
	OSWindows OS = "windows"
)

// NormalizeOS lowercases and validates an executor_os config value. Empty
// defaults to linux.
func NormalizeOS(value string) (OS, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "linux":
		return OSLinux, nil
	case "windows":
		return OSWindows, nil
	default:
		return "", fmt.Errorf("invalid executor_os %q, must be one of: windows, linux", value)
	}
}

// FromLabel converts the schema's workflow identifier into a Workflow.
func FromLabel(identifier string) (Workflow, error) {
	switch Workflow(identifier) {
	case Plan, Implement, CreatePR, FixCI:
		return Workflow(identifier), nil
	default:
		return "", fmt.Errorf("unknown workflow %q", identifier)
	}
}

// UsesLinkedBranch reports whether the workflow runs on the issue's linked
// feature branch. Planning always starts from the default branch.
func (w Workflow) UsesLinkedBranch() bool {
	return w != Plan
}

//go:embed templates.yaml
var templatesDoc []byte

type templateFile struct {
	Templates map[string]map[string]string `yaml:"templates"`
}

var templates templateFile

func init() {
	if err := yaml.Unmarshal(templatesDoc, &templates); err != nil {
		panic(fmt.Sprintf("workflows: bundled templates.yaml is invalid: %v", err))
	}
}

// Substitutions are the values rendered into a command script.
type Substitutions struct {
	LogLevel    string
	IssueNumber int
	BranchName  string
}

var placeholderPattern = regexp.MustCompile(`\{[a-z_]+\}`)

// Render returns the literal script text for the workflow on the target OS.
// The result contains no unsubstituted placeholders; an unknown placeholder
// in the template is an error rather than text the executor would run.
func (w Workflow) Render(os OS, subs Substitutions) (string, error) {
	perOS, ok := templates.Templates[string(w)]
	if !ok {
		return "", fmt.Errorf("no command template for workflow %q", w)
	}
	tmpl, ok := perOS[string(os)]
	if !ok {
		return "", fmt.Errorf("no %s command template for workflow %q", os, w)
	}

	script := strings.NewReplacer(
		"{log_level}", subs.LogLevel,
		"{issue_number}", fmt.Sprintf("%d", subs.IssueNumber),
		"{branch_name}", subs.BranchName,
	).Replace(tmpl)

	if leftover := placeholderPattern.FindString(script); leftover != "" {
		return "", fmt.Errorf("workflow %q template has unsubstituted placeholder %s", w, leftover)
	}
	return script, nil
}
