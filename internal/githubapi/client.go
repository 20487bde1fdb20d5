// Package githubapi wraps the gh CLI to provide GitHub API access without
// additional dependencies. The gh binary handles OAuth token refresh, rate
// limiting, pagination, and outputs parseable JSON via --json flags. All
// commands are pinned to an explicit "owner/repo" so the coordinator can
// sweep many repositories from one working directory.
package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
)

// runFunc executes a gh invocation and returns its raw output. It exists so
// tests can substitute a fake without a gh binary or network.
type runFunc func(ctx context.Context, args ...string) ([]byte, error)

// Client issues gh CLI commands against a fixed repository.
type Client struct {
	repo  string // "owner/repo"
	token string // optional; if empty, gh uses its stored credentials
	run   runFunc
}

// NewClient creates a GitHub client for repo ("owner/repo").
func NewClient(repo, token string) *Client {
	c := &Client{repo: repo, token: token}
	c.run = c.gh
	return c
}

// Repo returns the "owner/repo" this client is bound to.
func (c *Client) Repo() string { return c.repo }

// gh runs a gh CLI command and returns raw output.
func (c *Client) gh(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	if c.token != "" {
		cmd.Env = append(cmd.Environ(), "GH_TOKEN="+c.token)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("gh %s: %w\n%s", strings.Join(args, " "), err, string(out))
	}
	return out, nil
}

type ghIssue struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	State     string `json:"state"`
	URL       string `json:"url"`
	Labels    []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
}

func (g ghIssue) toIssue() Issue {
	labels := make([]string, 0, len(g.Labels))
	for _, l := range g.Labels {
		labels = append(labels, l.Name)
	}
	assignees := make([]string, 0, len(g.Assignees))
	for _, a := range g.Assignees {
		assignees = append(assignees, a.Login)
	}
	return Issue{
		Number:    g.Number,
		Title:     g.Title,
		Body:      g.Body,
		State:     strings.ToLower(g.State),
		URL:       g.URL,
		Labels:    labels,
		Assignees: assignees,
	}
}

// ListOpenIssues returns all open issues of the repository.
func (c *Client) ListOpenIssues(ctx context.Context) ([]Issue, error) {
	out, err := c.run(ctx, "issue", "list", "-R", c.repo,
		"--state", "open", "--limit", "500",
		"--json", "number,title,body,state,url,labels,assignees")
	if err != nil {
		return nil, err
	}
	var raw []ghIssue
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parse issue list: %w", err)
	}
	issues := make([]Issue, 0, len(raw))
	for _, r := range raw {
		issues = append(issues, r.toIssue())
	}
	return issues, nil
}

// GetIssue returns a single issue by number, open or closed.
func (c *Client) GetIssue(ctx context.Context, number int) (*Issue, error) {
	out, err := c.run(ctx, "issue", "view", fmt.Sprintf("%d", number), "-R", c.repo,
		"--json", "number,title,body,state,url,labels,assignees")
	if err != nil {
		return nil, err
	}
	var r ghIssue
	if err := json.Unmarshal(out, &r); err != nil {
		return nil, fmt.Errorf("parse issue view: %w", err)
	}
	issue := r.toIssue()
	return &issue, nil
}

// AddLabel adds a label to an issue.
func (c *Client) AddLabel(ctx context.Context, number int, label string) error {
	_, err := c.run(ctx, "issue", "edit", fmt.Sprintf("%d", number), "-R", c.repo,
		"--add-label", label)
	return err
}

// RemoveLabel removes a label from an issue.
func (c *Client) RemoveLabel(ctx context.Context, number int, label string) error {
	_, err := c.run(ctx, "issue", "edit", fmt.Sprintf("%d", number), "-R", c.repo,
		"--remove-label", label)
	return err
}

// LinkedBranches returns the branch names linked to an issue through GitHub's
// issue-branch development linking. gh has no porcelain for this, so it goes
// through the GraphQL API.
func (c *Client) LinkedBranches(ctx context.Context, number int) ([]string, error) {
	owner, name, err := SplitFullName(c.repo)
	if err != nil {
		return nil, err
	}
	query := `query($owner: String!, $name: String!, $number: Int!) {
		repository(owner: $owner, name: $name) {
			issue(number: $number) {
				linkedBranches(first: 10) {
					nodes { ref { name } }
				}
			}
		}
	}`
	out, err := c.run(ctx, "api", "graphql",
		"-f", "query="+query,
		"-F", "owner="+owner,
		"-F", "name="+name,
		"-F", fmt.Sprintf("number=%d", number))
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			Repository struct {
				Issue struct {
					LinkedBranches struct {
						Nodes []struct {
							Ref struct {
								Name string `json:"name"`
							} `json:"ref"`
						} `json:"nodes"`
					} `json:"linkedBranches"`
				} `json:"issue"`
			} `json:"repository"`
		} `json:"data"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("parse linked branches: %w", err)
	}
	branches := make([]string, 0, 1)
	for _, n := range resp.Data.Repository.Issue.LinkedBranches.Nodes {
		if n.Ref.Name != "" {
			branches = append(branches, n.Ref.Name)
		}
	}
	return branches, nil
}

// ListWorkflowRuns returns recent Actions runs for a branch, newest first.
func (c *Client) ListWorkflowRuns(ctx context.Context, branch string) ([]WorkflowRun, error) {
	out, err := c.run(ctx, "run", "list", "-R", c.repo,
		"--branch", branch, "--limit", "10",
		"--json", "databaseId,status,conclusion,url,headBranch")
	if err != nil {
		return nil, err
	}
	var runs []WorkflowRun
	if err := json.Unmarshal(out, &runs); err != nil {
		return nil, fmt.Errorf("parse run list: %w", err)
	}
	return runs, nil
}

// SplitFullName splits "owner/repo" into its two parts.
func SplitFullName(full string) (owner, name string, err error) {
	parts := strings.Split(full, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository name %q, want owner/repo", full)
	}
	return parts[0], parts[1], nil
}

// FullNameFromURL extracts "owner/repo" from a GitHub remote URL. Both HTTPS
// and SSH remotes are accepted.
func FullNameFromURL(repoURL string) (string, error) {
	s := strings.TrimSuffix(strings.TrimSpace(repoURL), ".git")
	if strings.HasPrefix(s, "git@") {
		// git@github.com:owner/repo
		if _, after, ok := strings.Cut(s, ":"); ok {
			if parts := strings.Split(strings.Trim(after, "/"), "/"); len(parts) == 2 {
				return parts[0] + "/" + parts[1], nil
			}
		}
		return "", fmt.Errorf("cannot derive owner/repo from %q", repoURL)
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("cannot derive owner/repo from %q", repoURL)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", fmt.Errorf("cannot derive owner/repo from %q", repoURL)
	}
	return parts[0] + "/" + parts[1], nil
}
