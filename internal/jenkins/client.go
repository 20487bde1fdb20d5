// Package jenkins submits parameterized jobs to a Jenkins-style build server
// and polls their status. The executor contract is deliberately minimal: a
// submission yields an opaque queue ID, and once the job leaves the queue the
// status lookup resolves a build number and URL.
package jenkins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// requestTimeout bounds every call to the executor.
const requestTimeout = 30 * time.Second

// ExecutorError wraps auth, network, and queue failures from the executor.
type ExecutorError struct {
	Op  string
	Err error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor %s: %v", e.Op, e.Err)
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// Credentials locate and authenticate against the Jenkins server.
type Credentials struct {
	ServerURL string
	Username  string
	APIToken  string
}

// ResolveCredentials builds executor credentials from the environment first,
// then the [jenkins] config section. Every missing field is named in the
// error so the operator can fix all of them in one go.
func ResolveCredentials(cfgURL, cfgUser, cfgToken string) (Credentials, error) {
	creds := Credentials{
		ServerURL: firstNonEmpty(os.Getenv("JENKINS_URL"), cfgURL),
		Username:  firstNonEmpty(os.Getenv("JENKINS_USER"), cfgUser),
		APIToken:  firstNonEmpty(os.Getenv("JENKINS_TOKEN"), cfgToken),
	}
	var missing []string
	if creds.ServerURL == "" {
		missing = append(missing, "server_url (env JENKINS_URL)")
	}
	if creds.Username == "" {
		missing = append(missing, "username (env JENKINS_USER)")
	}
	if creds.APIToken == "" {
		missing = append(missing, "api_token (env JENKINS_TOKEN)")
	}
	if len(missing) > 0 {
		return Credentials{}, fmt.Errorf("jenkins credentials incomplete, missing: %s", strings.Join(missing, ", "))
	}
	creds.ServerURL = strings.TrimRight(creds.ServerURL, "/")
	return creds, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// JobParams is the submission payload. Command is the rendered script for
// the worker's OS and is opaque to this package.
type JobParams struct {
	RepoURL       string
	Branch        string
	Command       string
	CredentialsID string
}

// BuildState is the executor's view of a job.
type BuildState string

const (
	StateQueued   BuildState = "queued"
	StateRunning  BuildState = "running"
	StateSuccess  BuildState = "SUCCESS"
	StateFailure  BuildState = "FAILURE"
	StateAborted  BuildState = "ABORTED"
	StateUnstable BuildState = "UNSTABLE"
)

// Status describes a submitted job. BuildNumber and URL stay zero until the
// job leaves the queue.
type Status struct {
	State       BuildState
	BuildNumber int64
	DurationMS  int64
	URL         string
}

// Client talks to one Jenkins server.
type Client struct {
	creds Credentials
	http  *http.Client
}

// NewClient creates an executor client with the fixed 30-second timeout.
func NewClient(creds Credentials) *Client {
	return &Client{
		creds: creds,
		http:  &http.Client{Timeout: requestTimeout},
	}
}

// jobURL converts "ci/mcp-coder-worker" into ".../job/ci/job/mcp-coder-worker".
func (c *Client) jobURL(jobPath string) string {
	var b strings.Builder
	b.WriteString(c.creds.ServerURL)
	for _, part := range strings.Split(strings.Trim(jobPath, "/"), "/") {
		b.WriteString("/job/")
		b.WriteString(url.PathEscape(part))
	}
	return b.String()
}

// Submit enqueues a parameterized build and returns the queue ID parsed from
// the Location header.
func (c *Client) Submit(ctx context.Context, jobPath string, params JobParams) (int64, error) {
	form := url.Values{
		"REPO_URL":              {params.RepoURL},
		"BRANCH_NAME":           {params.Branch},
		"COMMAND":               {params.Command},
		"GITHUB_CREDENTIALS_ID": {params.CredentialsID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.jobURL(jobPath)+"/buildWithParameters", strings.NewReader(form.Encode()))
	if err != nil {
		return 0, &ExecutorError{Op: "submit", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.creds.Username, c.creds.APIToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &ExecutorError{Op: "submit", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, &ExecutorError{Op: "submit", Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	queueID, err := parseQueueID(resp.Header.Get("Location"))
	if err != nil {
		return 0, &ExecutorError{Op: "submit", Err: err}
	}
	return queueID, nil
}

// parseQueueID extracts the numeric ID from ".../queue/item/123/".
func parseQueueID(location string) (int64, error) {
	if location == "" {
		return 0, fmt.Errorf("no Location header in queue response")
	}
	trimmed := strings.TrimRight(location, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return 0, fmt.Errorf("malformed queue location %q", location)
	}
	id, err := strconv.ParseInt(trimmed[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed queue location %q: %w", location, err)
	}
	return id, nil
}

type queueItem struct {
	Cancelled  bool `json:"cancelled"`
	Executable *struct {
		Number int64  `json:"number"`
		URL    string `json:"url"`
	} `json:"executable"`
}

type buildInfo struct {
	Building bool   `json:"building"`
	Result   string `json:"result"`
	Duration int64  `json:"duration"`
	URL      string `json:"url"`
}

// Status resolves a queue handle. While the item waits in the queue the
// state is queued; once scheduled, the underlying build is looked up for its
// number, URL, and verdict.
func (c *Client) Status(ctx context.Context, queueID int64) (Status, error) {
	var item queueItem
	queueAPI := fmt.Sprintf("%s/queue/item/%d/api/json", c.creds.ServerURL, queueID)
	if err := c.getJSON(ctx, queueAPI, &item); err != nil {
		return Status{}, &ExecutorError{Op: "status", Err: err}
	}
	if item.Cancelled {
		return Status{State: StateAborted}, nil
	}
	if item.Executable == nil {
		return Status{State: StateQueued}, nil
	}

	var build buildInfo
	buildAPI := strings.TrimRight(item.Executable.URL, "/") + "/api/json"
	if err := c.getJSON(ctx, buildAPI, &build); err != nil {
		return Status{}, &ExecutorError{Op: "status", Err: err}
	}

	status := Status{
		BuildNumber: item.Executable.Number,
		DurationMS:  build.Duration,
		URL:         item.Executable.URL,
	}
	switch {
	case build.Building || build.Result == "":
		status.State = StateRunning
	default:
		status.State = BuildState(build.Result)
	}
	return status, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.creds.Username, c.creds.APIToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: HTTP %d", rawURL, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse %s: %w", rawURL, err)
	}
	return nil
}
