// Package issuecache keeps a bounded-staleness, on-disk view of each
// repository's open issues so a sweep does not hammer the GitHub API. One
// JSON document per repository lives under the user cache directory; the
// remote API remains the source of truth and the cache is advisory.
package issuecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mcp-coder/coordinator/internal/githubapi"
)

// ErrCacheFetch wraps refresh failures. Callers may catch it and fall back
// to a direct remote fetch.
var ErrCacheFetch = errors.New("issue cache fetch failed")

// DefaultRefreshInterval is how long a cached snapshot stays authoritative.
const DefaultRefreshInterval = 24 * time.Hour

// Fetcher is the remote side of a refresh. *githubapi.Client satisfies it.
type Fetcher interface {
	ListOpenIssues(ctx context.Context) ([]githubapi.Issue, error)
	GetIssue(ctx context.Context, number int) (*githubapi.Issue, error)
}

// Entry is one cached snapshot of a repository's issues.
type Entry struct {
	RepoFullName string            `json:"repo_full_name"`
	FetchedAt    time.Time         `json:"fetched_at"`
	Issues       []githubapi.Issue `json:"issues"`
}

// SnapshotOptions control a single Snapshot call.
type SnapshotOptions struct {
	// ForceRefresh bypasses the staleness check entirely.
	ForceRefresh bool
	// RefreshInterval overrides DefaultRefreshInterval when > 0.
	RefreshInterval time.Duration
	// AdditionalNumbers are issues that must be present in the result even
	// when closed, used to check the state of tracked sessions.
	AdditionalNumbers []int
}

// Cache owns the per-repository cache files. A single writer per process;
// concurrent processes race last-write-wins, which is acceptable because the
// remote stays authoritative.
type Cache struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

// New creates a cache rooted at dir. Pass "" to use the platform default.
func New(dir string) (*Cache, error) {
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve user cache dir: %w", err)
		}
		dir = filepath.Join(base, "mcp_coder", "issues")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &Cache{dir: dir, now: time.Now}, nil
}

func (c *Cache) filePath(repo string) string {
	return filepath.Join(c.dir, strings.ReplaceAll(repo, "/", "__")+".json")
}

// Snapshot returns the repository's open issues, refreshing from the remote
// when the cached copy is stale. Issues listed in AdditionalNumbers are
// included even when closed. Refresh failures return ErrCacheFetch.
func (c *Cache) Snapshot(ctx context.Context, repo string, remote Fetcher, opts SnapshotOptions) ([]githubapi.Issue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	interval := opts.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	entry := c.read(repo)
	fresh := entry != nil && c.now().Sub(entry.FetchedAt) < interval
	if opts.ForceRefresh || !fresh {
		refreshed, err := c.refresh(ctx, repo, remote)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCacheFetch, repo, err)
		}
		entry = refreshed
	}

	return c.present(ctx, repo, remote, entry, opts.AdditionalNumbers)
}

// present filters the entry down to open issues, pulling in the additional
// numbers (possibly closed) that the caller tracks.
func (c *Cache) present(ctx context.Context, repo string, remote Fetcher, entry *Entry, additional []int) ([]githubapi.Issue, error) {
	wanted := make(map[int]bool, len(additional))
	for _, n := range additional {
		wanted[n] = true
	}

	out := make([]githubapi.Issue, 0, len(entry.Issues))
	seen := make(map[int]bool, len(entry.Issues))
	for _, issue := range entry.Issues {
		if !issue.IsOpen() && !wanted[issue.Number] {
			continue
		}
		out = append(out, issue)
		seen[issue.Number] = true
	}

	// Tracked issues absent from the open-issue list are fetched directly;
	// they are usually closed, which is exactly what the caller wants to see.
	for _, n := range additional {
		if seen[n] {
			continue
		}
		issue, err := remote.GetIssue(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("%w: %s#%d: %v", ErrCacheFetch, repo, n, err)
		}
		out = append(out, *issue)
	}
	return out, nil
}

// refresh replaces the cached entry with a full open-issue listing.
func (c *Cache) refresh(ctx context.Context, repo string, remote Fetcher) (*Entry, error) {
	issues, err := remote.ListOpenIssues(ctx)
	if err != nil {
		return nil, err
	}
	entry := &Entry{
		RepoFullName: repo,
		FetchedAt:    c.now().UTC(),
		Issues:       issues,
	}
	if err := c.write(repo, entry); err != nil {
		// Persisting the refresh is best-effort; the fetched data is good.
		log.Printf("[IssueCache] persist %s: %v", repo, err)
	}
	return entry, nil
}

// PatchLabels swaps one label for another on a cached issue so the next
// issue in the same sweep does not see the stale label. Failure is logged by
// the caller, never fatal: the remote remains the source of truth.
func (c *Cache) PatchLabels(repo string, number int, fromLabel, toLabel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.read(repo)
	if entry == nil {
		return fmt.Errorf("no cache entry for %s", repo)
	}
	for ii := range entry.Issues {
		if entry.Issues[ii].Number != number {
			continue
		}
		labels := make([]string, 0, len(entry.Issues[ii].Labels))
		for _, l := range entry.Issues[ii].Labels {
			if l != fromLabel {
				labels = append(labels, l)
			}
		}
		labels = append(labels, toLabel)
		entry.Issues[ii].Labels = labels
		return c.write(repo, entry)
	}
	return fmt.Errorf("issue %s#%d not in cache", repo, number)
}

// read loads a cache file. A missing, partially written, or corrupt file
// reads as nil: "empty cache, refresh required", never an error.
func (c *Cache) read(repo string) *Entry {
	data, err := os.ReadFile(c.filePath(repo))
	if err != nil {
		return nil
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		log.Printf("[IssueCache] unreadable cache for %s, forcing refresh: %v", repo, err)
		return nil
	}
	if entry.FetchedAt.IsZero() {
		return nil
	}
	return &entry
}

// write rewrites the cache file in full.
func (c *Cache) write(repo string, entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := os.WriteFile(c.filePath(repo), data, 0o644); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	return nil
}
