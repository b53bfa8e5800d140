// Package checks runs external checkers (linters, compilers) against files
// and normalizes their output.
package checks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// FilePlaceholder is replaced with the file under check in command argv.
const FilePlaceholder = "{file}"

// DefaultTimeout bounds a single checker invocation.
const DefaultTimeout = 2 * time.Minute

// Result holds the structured output of a check run.
type Result struct {
	CheckName  string `json:"check_name"`
	Passed     bool   `json:"passed"`
	AutoFixed  bool   `json:"auto_fixed"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int    `json:"duration_ms"`
	Summary    string `json:"summary"`
	Findings   string `json:"findings"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
}

// Output is the combined diagnostic text of the run.
func (r *Result) Output() string {
	return strings.TrimSpace(strings.TrimSpace(r.Stdout) + "\n" + strings.TrimSpace(r.Stderr))
}

// CheckConfig mirrors config.Check with the fields the runner needs.
type CheckConfig struct {
	Name       string
	Command    []string
	Parser     string
	Timeout    time.Duration
	AutoFix    bool
	FixCommand []string
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, argv []string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner with os/exec.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, argv []string) (string, string, int, error) {
	if len(argv) == 0 {
		return "", "", -1, errors.New("exec: empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec %s: %w", argv[0], err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes checks and parses their output.
type Runner struct {
	cmd     CommandRunner
	parsers map[string]Parser
}

// NewRunner creates a Runner with the given command runner.
func NewRunner(cmd CommandRunner) *Runner {
	return &Runner{cmd: cmd, parsers: builtinParsers()}
}

// Expand substitutes file for every FilePlaceholder in argv.
func Expand(argv []string, file string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = strings.ReplaceAll(a, FilePlaceholder, file)
	}
	return out
}

// Run executes a single check against file, with dir as working directory.
func (r *Runner) Run(ctx context.Context, dir, file string, cfg CheckConfig) (*Result, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	result, err := r.runOnce(ctx, dir, Expand(cfg.Command, file), cfg, timeout)
	if err != nil {
		return nil, err
	}

	// Auto-fix: if check failed, auto_fix enabled, and fix_command set, run fix then re-check
	if !result.Passed && cfg.AutoFix && len(cfg.FixCommand) > 0 {
		fixCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		// Fixers often exit non-zero; only the re-check decides.
		_, _, _, _ = r.cmd.Run(fixCtx, dir, Expand(cfg.FixCommand, file))

		recheck, err := r.runOnce(ctx, dir, Expand(cfg.Command, file), cfg, timeout)
		if err != nil {
			return nil, fmt.Errorf("re-run after fix: %w", err)
		}
		recheck.AutoFixed = true
		return recheck, nil
	}

	return result, nil
}

// runOnce executes a check command once and parses the output.
func (r *Runner) runOnce(ctx context.Context, dir string, argv []string, cfg CheckConfig, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(ctx, dir, argv)
	durationMs := int(time.Since(start).Milliseconds())

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Result{
				CheckName:  cfg.Name,
				Passed:     false,
				TimedOut:   true,
				ExitCode:   -1,
				DurationMs: durationMs,
				Summary:    fmt.Sprintf("timeout after %s", timeout),
				Stdout:     stdout,
				Stderr:     stderr,
			}, nil
		}
		return nil, fmt.Errorf("run check %q: %w", cfg.Name, err)
	}

	parsed := r.parsers[ResolveParser(cfg.Parser)].Parse(stdout, stderr, exitCode)

	findingsJSON, _ := json.Marshal(parsed.Findings)

	return &Result{
		CheckName:  cfg.Name,
		Passed:     exitCode == 0 && parsed.Passed,
		ExitCode:   exitCode,
		DurationMs: durationMs,
		Summary:    parsed.Summary,
		Findings:   string(findingsJSON),
		Stdout:     stdout,
		Stderr:     stderr,
	}, nil
}
