package repo

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// CommitMismatchError means a checkout did not land on the expected commit.
// It is a configuration error and is never retried.
type CommitMismatchError struct {
	Dir  string
	Want string
	Got  string
}

func (e *CommitMismatchError) Error() string {
	return fmt.Sprintf("repository at %s is at %s, expected %s", e.Dir, e.Got, e.Want)
}

// Fatal marks the error as one that must stop the run.
func (e *CommitMismatchError) Fatal() bool { return true }

// Manager handles checkout operations.
type Manager struct {
	git     GitRunner
	baseURL string // clone URL prefix, e.g. https://github.com
	logger  *slog.Logger
}

// NewManager creates a checkout manager.
func NewManager(git GitRunner, baseURL string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{git: git, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// CloneURL returns the clone URL for an owner/name repository.
func (m *Manager) CloneURL(repo string) string {
	return fmt.Sprintf("%s/%s.git", m.baseURL, repo)
}

// Prepare makes dir a checkout of repo at commit. An existing checkout
// already at commit is reused; anything else at dir is removed and cloned
// afresh.
func (m *Manager) Prepare(repo, commit, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		head, err := m.Head(dir)
		if err == nil && sameCommit(head, commit) {
			m.logger.Info("reusing checkout", "dir", dir, "commit", head)
			return nil
		}
		m.logger.Info("checkout at wrong commit, re-cloning", "dir", dir, "head", head, "want", commit)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove stale checkout: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("create checkout parent: %w", err)
	}

	url := m.CloneURL(repo)
	m.logger.Info("cloning", "url", url, "dir", dir)
	if _, err := m.git.Run("", "clone", url, dir); err != nil {
		return fmt.Errorf("clone %s: %w", repo, err)
	}
	if err := m.Checkout(dir, commit); err != nil {
		return err
	}
	return m.verify(dir, commit)
}

// Checkout checks out commit in dir.
func (m *Manager) Checkout(dir, commit string) error {
	if _, err := m.git.Run(dir, "checkout", commit); err != nil {
		return fmt.Errorf("checkout %s: %w", commit, err)
	}
	return nil
}

// ResetHard resets the working tree and index to commit.
func (m *Manager) ResetHard(dir, commit string) error {
	if _, err := m.git.Run(dir, "reset", "--hard", commit); err != nil {
		return fmt.Errorf("reset --hard %s: %w", commit, err)
	}
	return nil
}

// Clean removes untracked files and directories.
func (m *Manager) Clean(dir string) error {
	if _, err := m.git.Run(dir, "clean", "-fd"); err != nil {
		return fmt.Errorf("clean: %w", err)
	}
	return nil
}

// Head returns the commit HEAD points at.
func (m *Manager) Head(dir string) (string, error) {
	out, err := m.git.Run(dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// EnsureAt resets dir to a clean tree at commit and verifies HEAD.
func (m *Manager) EnsureAt(dir, commit string) error {
	if err := m.ResetHard(dir, commit); err != nil {
		return err
	}
	if err := m.Clean(dir); err != nil {
		return err
	}
	return m.verify(dir, commit)
}

func (m *Manager) verify(dir, commit string) error {
	head, err := m.Head(dir)
	if err != nil {
		return err
	}
	if !sameCommit(head, commit) {
		return &CommitMismatchError{Dir: dir, Want: commit, Got: head}
	}
	return nil
}

// ApplyCheck dry-runs `git apply --check` for patchFile. A patch that does
// not apply returns ok=false with git's output; err is reserved for git
// itself failing to run.
func (m *Manager) ApplyCheck(dir, patchFile string) (ok bool, output string, err error) {
	out, err := m.git.Run(dir, "apply", "--check", patchFile)
	if err == nil {
		return true, out, nil
	}
	var gitErr *GitError
	if errors.As(err, &gitErr) && gitErr.ExitCode > 0 {
		return false, gitErr.Output, nil
	}
	return false, out, fmt.Errorf("apply --check: %w", err)
}

// sameCommit compares a full HEAD sha against a full or abbreviated one.
func sameCommit(head, want string) bool {
	if head == "" || want == "" {
		return false
	}
	if head == want {
		return true
	}
	return len(want) >= 7 && strings.HasPrefix(head, want)
}
