package jenkins

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestResolveCredentialsEnvFirst(t *testing.T) {
	t.Setenv("JENKINS_URL", "https://env.example.com/")
	t.Setenv("JENKINS_USER", "env-user")
	t.Setenv("JENKINS_TOKEN", "env-token")

	creds, err := ResolveCredentials("https://cfg.example.com", "cfg-user", "cfg-token")
	if err != nil {
		t.Fatalf("ResolveCredentials failed: %v", err)
	}
	if creds.ServerURL != "https://env.example.com" {
		t.Errorf("env must win over config, got %q", creds.ServerURL)
	}
	if creds.Username != "env-user" || creds.APIToken != "env-token" {
		t.Errorf("env creds not applied: %+v", creds)
	}
}

func TestResolveCredentialsConfigFallback(t *testing.T) {
	t.Setenv("JENKINS_URL", "")
	t.Setenv("JENKINS_USER", "")
	t.Setenv("JENKINS_TOKEN", "")

	creds, err := ResolveCredentials("https://cfg.example.com", "cfg-user", "cfg-token")
	if err != nil {
		t.Fatalf("ResolveCredentials failed: %v", err)
	}
	if creds.Username != "cfg-user" {
		t.Errorf("config fallback not applied: %+v", creds)
	}
}

func TestResolveCredentialsNamesEveryMissingField(t *testing.T) {
	t.Setenv("JENKINS_URL", "")
	t.Setenv("JENKINS_USER", "")
	t.Setenv("JENKINS_TOKEN", "")

	_, err := ResolveCredentials("", "", "")
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
	for _, field := range []string{"server_url", "username", "api_token"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not name missing field %q", err, field)
		}
	}
}

func TestSubmit(t *testing.T) {
	var gotPath string
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = map[string]string{}
		for k := range r.PostForm {
			gotForm[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Location", srvURL(r)+"/queue/item/101/")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(Credentials{ServerURL: srv.URL, Username: "u", APIToken: "t"})
	queueID, err := c.Submit(context.Background(), "ci/mcp-coder-worker", JobParams{
		RepoURL:       "https://github.com/acme/foo.git",
		Branch:        "main",
		Command:       "echo hi",
		CredentialsID: "github-acme",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if queueID != 101 {
		t.Errorf("queueID = %d, want 101", queueID)
	}
	if gotPath != "/job/ci/job/mcp-coder-worker/buildWithParameters" {
		t.Errorf("wrong job path %q", gotPath)
	}
	want := map[string]string{
		"REPO_URL":              "https://github.com/acme/foo.git",
		"BRANCH_NAME":           "main",
		"COMMAND":               "echo hi",
		"GITHUB_CREDENTIALS_ID": "github-acme",
	}
	for k, v := range want {
		if gotForm[k] != v {
			t.Errorf("form[%s] = %q, want %q", k, gotForm[k], v)
		}
	}
}

func srvURL(r *http.Request) string {
	return "http://" + r.Host
}

func TestSubmitServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Credentials{ServerURL: srv.URL, Username: "u", APIToken: "t"})
	_, err := c.Submit(context.Background(), "job", JobParams{})
	if err == nil {
		t.Fatal("expected error")
	}
	var execErr *ExecutorError
	if !asExecutorError(err, &execErr) {
		t.Errorf("expected ExecutorError, got %T", err)
	}
}

func asExecutorError(err error, target **ExecutorError) bool {
	e, ok := err.(*ExecutorError)
	if ok {
		*target = e
	}
	return ok
}

func TestStatusQueued(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/queue/item/101/api/json" {
			fmt.Fprint(w, `{"cancelled": false}`)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(Credentials{ServerURL: srv.URL, Username: "u", APIToken: "t"})
	status, err := c.Status(context.Background(), 101)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != StateQueued {
		t.Errorf("state = %q, want queued", status.State)
	}
	if status.URL != "" || status.BuildNumber != 0 {
		t.Errorf("queued status must not carry build info: %+v", status)
	}
}

func TestStatusScheduled(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/queue/item/101/api/json":
			fmt.Fprintf(w, `{"executable": {"number": 7, "url": "%s/job/ci/7/"}}`, srv.URL)
		case "/job/ci/7/api/json":
			fmt.Fprint(w, `{"building": false, "result": "SUCCESS", "duration": 90000}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(Credentials{ServerURL: srv.URL, Username: "u", APIToken: "t"})
	status, err := c.Status(context.Background(), 101)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != StateSuccess || status.BuildNumber != 7 || status.DurationMS != 90000 {
		t.Errorf("unexpected status: %+v", status)
	}
	if !strings.HasSuffix(status.URL, "/job/ci/7/") {
		t.Errorf("unexpected build URL %q", status.URL)
	}
}

func TestStatusRunning(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/queue/item/5/api/json":
			fmt.Fprintf(w, `{"executable": {"number": 3, "url": "%s/job/ci/3/"}}`, srv.URL)
		case "/job/ci/3/api/json":
			fmt.Fprint(w, `{"building": true, "result": null}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(Credentials{ServerURL: srv.URL, Username: "u", APIToken: "t"})
	status, err := c.Status(context.Background(), 5)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != StateRunning {
		t.Errorf("state = %q, want running", status.State)
	}
}

func TestParseQueueID(t *testing.T) {
	tests := []struct {
		location string
		want     int64
		wantErr  bool
	}{
		{"https://ci.example.com/queue/item/123/", 123, false},
		{"https://ci.example.com/queue/item/123", 123, false},
		{"", 0, true},
		{"https://ci.example.com/queue/item/abc/", 0, true},
	}
	for _, tt := range tests {
		got, err := parseQueueID(tt.location)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseQueueID(%q) expected error", tt.location)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("parseQueueID(%q) = %d, %v; want %d", tt.location, got, err, tt.want)
		}
	}
}
