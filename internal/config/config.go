// Package config loads the coordinator's TOML configuration from
// ~/.mcp_coder/config.toml. Environment variables win over file values
// uniformly; the file is materialized with a commented template on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/term"

	"github.com/mcp-coder/coordinator/internal/workflows"
)

// GitHub holds the [github] section.
type GitHub struct {
	Token       string `toml:"token"`
	TestRepoURL string `toml:"test_repo_url,omitempty"`
	// AutomationUser is the account whose issue assignment marks an issue
	// as claimable by attended sessions.
	AutomationUser string `toml:"automation_user,omitempty"`
}

// Jenkins holds the [jenkins] section. Environment variables JENKINS_URL,
// JENKINS_USER and JENKINS_TOKEN override these values.
type Jenkins struct {
	ServerURL string `toml:"server_url"`
	Username  string `toml:"username"`
	APIToken  string `toml:"api_token"`
}

// Repo is one [coordinator.repos.<name>] entry.
type Repo struct {
	RepoURL              string   `toml:"repo_url"`
	ExecutorJobPath      string   `toml:"executor_job_path"`
	GitHubCredentialsID  string   `toml:"github_credentials_id"`
	ExecutorOS           string   `toml:"executor_os"`
	SetupCommandsWindows []string `toml:"setup_commands_windows,omitempty"`
	SetupCommandsLinux   []string `toml:"setup_commands_linux,omitempty"`
}

// VSCodeClaude holds the [coordinator.vscodeclaude] section.
type VSCodeClaude struct {
	WorkspaceBase string `toml:"workspace_base"`
	MaxSessions   int    `toml:"max_sessions"`
}

// Coordinator holds the [coordinator] section.
type Coordinator struct {
	Repos        map[string]Repo `toml:"repos"`
	VSCodeClaude VSCodeClaude    `toml:"vscodeclaude"`
}

// Config is the whole parsed document.
type Config struct {
	GitHub      GitHub      `toml:"github"`
	Jenkins     Jenkins     `toml:"jenkins"`
	Coordinator Coordinator `toml:"coordinator"`

	// Path is where the document was loaded from, for error messages.
	Path string `toml:"-"`

	// repoOrder keeps the document's [coordinator.repos.<name>] table order,
	// which the TOML map type discards.
	repoOrder []string
}

// DefaultPath returns ~/.mcp_coder/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".mcp_coder", "config.toml"), nil
}

const bootstrapTemplate = `# mcp-coder coordinator configuration

[github]
# Personal access token with repo scope. GITHUB_TOKEN overrides this.
token = ""
# Account whose issue assignment opens attended sessions.
automation_user = ""

[jenkins]
# JENKINS_URL / JENKINS_USER / JENKINS_TOKEN override these.
server_url = ""
username = ""
api_token = ""

[coordinator.vscodeclaude]
workspace_base = ""
max_sessions = 3

# One section per watched repository:
#
# [coordinator.repos.myproject]
# repo_url = "https://github.com/acme/myproject.git"
# executor_job_path = "ci/mcp-coder-worker"
# github_credentials_id = "github-acme"
# executor_os = "linux"
# setup_commands_linux = ["npm install"]
`

// Load parses the config document at path. Pass "" for the default path. A
// missing file at the default path is bootstrapped with a commented template
// and returned as the (empty) configuration.
func Load(path string) (*Config, error) {
	bootstrap := false
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
		bootstrap = true
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && bootstrap {
		if werr := materialize(path); werr != nil {
			return nil, werr
		}
		data, err = []byte(bootstrapTemplate), nil
	}
	if err != nil {
		return nil, fmt.Errorf("Config file: %s - %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("Config file: %s - %w", path, err)
	}
	cfg.Path = path
	cfg.repoOrder = repoTableOrder(data)

	if cfg.Coordinator.VSCodeClaude.MaxSessions <= 0 {
		cfg.Coordinator.VSCodeClaude.MaxSessions = 3
	}
	return &cfg, nil
}

// materialize writes the first-run template, creating the config directory.
func materialize(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(bootstrapTemplate), 0o600); err != nil {
		return fmt.Errorf("write config template: %w", err)
	}
	return nil
}

// missingFieldError formats the uniform config error line.
func missingFieldError(path, section, field string) error {
	return fmt.Errorf("Config file: %s - section [%s] - value for field '%s' missing", path, section, field)
}

// ValidateRepo checks that a repository entry carries everything dispatch
// needs and that executor_os is in the closed set. The returned copy has
// executor_os normalized to lower case.
func (c *Config) ValidateRepo(name string) (Repo, error) {
	repo, ok := c.Coordinator.Repos[name]
	if !ok {
		return Repo{}, fmt.Errorf("Config file: %s - section [coordinator.repos.%s] missing", c.Path, name)
	}
	section := "coordinator.repos." + name
	if repo.RepoURL == "" {
		return Repo{}, missingFieldError(c.Path, section, "repo_url")
	}
	if repo.ExecutorJobPath == "" {
		return Repo{}, missingFieldError(c.Path, section, "executor_job_path")
	}
	if repo.GitHubCredentialsID == "" {
		return Repo{}, missingFieldError(c.Path, section, "github_credentials_id")
	}
	normalized, err := workflows.NormalizeOS(repo.ExecutorOS)
	if err != nil {
		return Repo{}, fmt.Errorf("Config file: %s - section [%s] - %w", c.Path, section, err)
	}
	repo.ExecutorOS = string(normalized)
	return repo, nil
}

// SetupCommands returns the per-OS setup command list for a repo entry.
func (r Repo) SetupCommands(osName string) []string {
	if osName == string(workflows.OSWindows) {
		return r.SetupCommandsWindows
	}
	return r.SetupCommandsLinux
}

// repoTableOrder extracts [coordinator.repos.<name>] header names in
// document order. The parser decodes repo tables into a map, losing order.
func repoTableOrder(data []byte) []string {
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[coordinator.repos.") || !strings.HasSuffix(line, "]") {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(line, "[coordinator.repos."), "]")
		if name != "" && !strings.Contains(name, ".") {
			names = append(names, name)
		}
	}
	return names
}

// RepoNames returns configured repository names in the document's listing
// order. Entries defined outside table headers follow, sorted.
func (c *Config) RepoNames() []string {
	names := make([]string, 0, len(c.Coordinator.Repos))
	seen := make(map[string]bool, len(c.Coordinator.Repos))
	for _, name := range c.repoOrder {
		if _, ok := c.Coordinator.Repos[name]; ok && !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}
	rest := make([]string, 0, len(c.Coordinator.Repos))
	for name := range c.Coordinator.Repos {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// GitHubToken returns the token, env-first. When neither the environment nor
// the file provides one and stdin is a terminal, the user is prompted once.
func (c *Config) GitHubToken() (string, error) {
	if tok := os.Getenv("GITHUB_TOKEN"); tok != "" {
		return tok, nil
	}
	if c.GitHub.Token != "" {
		return c.GitHub.Token, nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", missingFieldError(c.Path, "github", "token")
	}
	fmt.Fprint(os.Stderr, "GitHub token: ")
	tokenBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	if len(tokenBytes) == 0 {
		return "", missingFieldError(c.Path, "github", "token")
	}
	return string(tokenBytes), nil
}
