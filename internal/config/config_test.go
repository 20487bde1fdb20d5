package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleConfig = `
[github]
token = "ghp_test"
automation_user = "coder-bot"

[jenkins]
server_url = "https://ci.example.com"
username = "coordinator"
api_token = "secret"

[coordinator.vscodeclaude]
workspace_base = "/tmp/workspaces"
max_sessions = 2

[coordinator.repos.foo]
repo_url = "https://github.com/acme/foo.git"
executor_job_path = "ci/mcp-coder-worker"
github_credentials_id = "github-acme"
executor_os = "Linux"
setup_commands_linux = ["npm install"]

[coordinator.repos.bar]
repo_url = "https://github.com/acme/bar.git"
executor_job_path = "ci/mcp-coder-worker"
github_credentials_id = "github-acme"
executor_os = "windows"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.GitHub.Token != "ghp_test" {
		t.Errorf("github token = %q", cfg.GitHub.Token)
	}
	if cfg.Jenkins.ServerURL != "https://ci.example.com" {
		t.Errorf("jenkins url = %q", cfg.Jenkins.ServerURL)
	}
	if cfg.Coordinator.VSCodeClaude.MaxSessions != 2 {
		t.Errorf("max_sessions = %d", cfg.Coordinator.VSCodeClaude.MaxSessions)
	}
	// foo is listed before bar, so document order beats sorted order.
	if got := cfg.RepoNames(); len(got) != 2 || got[0] != "foo" || got[1] != "bar" {
		t.Errorf("RepoNames = %v", got)
	}
}

func TestRepoNamesWithoutDocumentOrder(t *testing.T) {
	// A Config built in code has no document to take order from.
	cfg := &Config{Coordinator: Coordinator{Repos: map[string]Repo{
		"zeta": {}, "alpha": {},
	}}}
	if got := cfg.RepoNames(); len(got) != 2 || got[0] != "alpha" || got[1] != "zeta" {
		t.Errorf("RepoNames = %v", got)
	}
}

func TestValidateRepoNormalizesOS(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	repo, err := cfg.ValidateRepo("foo")
	if err != nil {
		t.Fatalf("ValidateRepo failed: %v", err)
	}
	if repo.ExecutorOS != "linux" {
		t.Errorf("executor_os not normalized: %q", repo.ExecutorOS)
	}
	if got := repo.SetupCommands("linux"); len(got) != 1 || got[0] != "npm install" {
		t.Errorf("SetupCommands = %v", got)
	}
}

func TestValidateRepoMissingField(t *testing.T) {
	doc := `
[coordinator.repos.foo]
repo_url = "https://github.com/acme/foo.git"
executor_job_path = "ci/worker"
executor_os = "linux"
`
	cfg, err := Load(writeConfig(t, doc))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	_, err = cfg.ValidateRepo("foo")
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "section [coordinator.repos.foo]") ||
		!strings.Contains(msg, "'github_credentials_id' missing") {
		t.Errorf("error message %q lacks section/field naming", msg)
	}
}

func TestValidateRepoBadOS(t *testing.T) {
	doc := `
[coordinator.repos.foo]
repo_url = "https://github.com/acme/foo.git"
executor_job_path = "ci/worker"
github_credentials_id = "cred"
executor_os = "solaris"
`
	cfg, err := Load(writeConfig(t, doc))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := cfg.ValidateRepo("foo"); err == nil {
		t.Errorf("expected error for invalid executor_os")
	}
}

func TestValidateRepoUnknownSection(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := cfg.ValidateRepo("nope"); err == nil {
		t.Errorf("expected error for unknown repo section")
	}
}

func TestGitHubTokenEnvFirst(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	t.Setenv("GITHUB_TOKEN", "from-env")
	tok, err := cfg.GitHubToken()
	if err != nil {
		t.Fatalf("GitHubToken failed: %v", err)
	}
	if tok != "from-env" {
		t.Errorf("env must win, got %q", tok)
	}

	t.Setenv("GITHUB_TOKEN", "")
	tok, err = cfg.GitHubToken()
	if err != nil {
		t.Fatalf("GitHubToken failed: %v", err)
	}
	if tok != "ghp_test" {
		t.Errorf("config fallback, got %q", tok)
	}
}

func TestDefaultsApplied(t *testing.T) {
	cfg, err := Load(writeConfig(t, `[github]
token = "x"`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Coordinator.VSCodeClaude.MaxSessions != 3 {
		t.Errorf("default max_sessions = %d, want 3", cfg.Coordinator.VSCodeClaude.MaxSessions)
	}
}
