// Package gitops shells out to git for attended-session working folders:
// clone on first use, checkout-and-pull afterwards, cleanliness checks before
// deleting anything.
package gitops

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CloneOrUpdate makes dir a checkout of repoURL at branch. An empty folder
// is cloned into; an existing clone is checked out and fast-forwarded.
func CloneOrUpdate(ctx context.Context, repoURL, branch, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create work dir %s: %w", dir, err)
		}
		args := []string{"clone"}
		if branch != "" {
			args = append(args, "--branch", branch)
		}
		args = append(args, repoURL, dir)
		if out, err := run(ctx, "", args...); err != nil {
			return fmt.Errorf("git clone %s: %w\n%s", repoURL, err, out)
		}
		return nil
	}

	if branch != "" {
		if out, err := run(ctx, dir, "checkout", branch); err != nil {
			return fmt.Errorf("git checkout %s: %w\n%s", branch, err, out)
		}
	}
	if out, err := run(ctx, dir, "pull", "--ff-only"); err != nil {
		return fmt.Errorf("git pull: %w\n%s", err, out)
	}
	return nil
}

// IsClean reports whether the working tree has no uncommitted changes and no
// untracked files.
func IsClean(ctx context.Context, dir string) (bool, error) {
	out, err := run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w\n%s", err, out)
	}
	return strings.TrimSpace(out) == "", nil
}

// CurrentBranch returns the checked-out branch name.
func CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w\n%s", err, out)
	}
	return strings.TrimSpace(out), nil
}

// EnsureGitignoreBlock appends the given lines to dir/.gitignore inside a
// marked block. Calling it again with the same marker is a no-op.
func EnsureGitignoreBlock(dir, marker string, lines []string) error {
	path := filepath.Join(dir, ".gitignore")
	begin := fmt.Sprintf("# --- %s ---", marker)

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read .gitignore: %w", err)
	}
	if strings.Contains(string(existing), begin) {
		return nil
	}

	var b strings.Builder
	b.Write(existing)
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		b.WriteString("\n")
	}
	b.WriteString(begin + "\n")
	for _, line := range lines {
		b.WriteString(line + "\n")
	}
	b.WriteString(fmt.Sprintf("# --- end %s ---\n", marker))

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write .gitignore: %w", err)
	}
	return nil
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	return string(out), err
}
