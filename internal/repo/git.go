// Package repo prepares and resets repository checkouts for problem
// instances.
package repo

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// GitRunner provides git commands. Interface for testing.
type GitRunner interface {
	Run(dir string, args ...string) (string, error)
}

// GitError is returned by ExecGit when git exits unsuccessfully.
type GitError struct {
	Args     []string
	Output   string
	ExitCode int
	Err      error
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git %s: %s: %v", strings.Join(e.Args, " "), e.Output, e.Err)
}

func (e *GitError) Unwrap() error { return e.Err }

// ExecGit implements GitRunner using exec.Command.
type ExecGit struct{}

func (g *ExecGit) Run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return output, &GitError{Args: args, Output: output, ExitCode: code, Err: err}
	}
	return output, nil
}
