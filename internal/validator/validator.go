// Package validator checks that a candidate patch applies cleanly to the
// repository and passes the configured checkers, producing a cleaned patch.
package validator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/lucasnoah/patchfactory/internal/checks"
	"github.com/lucasnoah/patchfactory/internal/patch"
)

// Status is the outcome of a validation. A validation starts PENDING and
// ends PASSED or ERROR.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPassed  Status = "PASSED"
	StatusError   Status = "ERROR"
)

// Outcome is the result of validating one patch. CleanedPatch is set only
// when Status is PASSED; Message only when it is ERROR.
type Outcome struct {
	Status       Status `json:"status"`
	CleanedPatch string `json:"cleaned_patch,omitempty"`
	Message      string `json:"error_message,omitempty"`
}

// Gate runs the checker gate against one file.
type Gate interface {
	RunGate(ctx context.Context, opts checks.GateOpts) (*checks.GateResult, []*checks.Result, error)
}

// Validator validates patches against a repository checkout. It never
// writes to the repository: patched files go to a scratch directory.
type Validator struct {
	repoPath string
	gate     Gate
	checks   []checks.CheckConfig
	logger   *slog.Logger
}

// New creates a Validator for the checkout at repoPath.
func New(repoPath string, gate Gate, cfgs []checks.CheckConfig, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{repoPath: repoPath, gate: gate, checks: cfgs, logger: logger}
}

// Validate applies each per-file chunk of diff to the repository contents,
// runs the checkers in fix mode on the result and re-diffs the fixed text
// against the original. Any chunk failing makes the whole patch ERROR.
func (v *Validator) Validate(ctx context.Context, diff string) Outcome {
	chunks := patch.Split(diff)
	if len(chunks) == 0 {
		v.logger.Debug("no file chunks in patch, passing through")
		return Outcome{Status: StatusPassed, CleanedPatch: diff}
	}

	scratch, err := os.MkdirTemp("", "patchfactory-validate-*")
	if err != nil {
		return errorOutcome(fmt.Errorf("creating scratch dir: %w", err))
	}
	defer os.RemoveAll(scratch)

	var cleaned strings.Builder
	for i, c := range chunks {
		d, err := v.validateChunk(ctx, scratch, i, c)
		if err != nil {
			v.logger.Info("patch chunk rejected", "path", c.Path, "error", err)
			return errorOutcome(err)
		}
		cleaned.WriteString(d)
	}

	out := cleaned.String()
	if strings.TrimSpace(out) == "" {
		out = diff
	}
	v.logger.Debug("patch validated", "chunks", len(chunks), "cleaned_bytes", len(out))
	return Outcome{Status: StatusPassed, CleanedPatch: out}
}

func errorOutcome(err error) Outcome {
	return Outcome{Status: StatusError, Message: err.Error()}
}

func (v *Validator) validateChunk(ctx context.Context, scratch string, idx int, c patch.Chunk) (string, error) {
	repaired := patch.RepairHunkHeaders(c.Diff)

	original := ""
	if !patch.IsCreation(repaired) {
		data, err := os.ReadFile(filepath.Join(v.repoPath, filepath.FromSlash(c.Path)))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", fmt.Errorf("file not found: %s", c.Path)
			}
			return "", fmt.Errorf("reading %s: %w", c.Path, err)
		}
		if !utf8.Valid(data) {
			return "", fmt.Errorf("cannot decode %s as UTF-8", c.Path)
		}
		original = string(data)
	}

	patched, err := patch.Apply(original, repaired, c.Path)
	if err != nil {
		return "", fmt.Errorf("patch failed for %s: %w", c.Path, err)
	}

	// Keep the extension so checkers pick the right language rules.
	dir := filepath.Join(scratch, fmt.Sprintf("%03d", idx))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating scratch dir: %w", err)
	}
	file := filepath.Join(dir, filepath.Base(c.Path))
	if err := os.WriteFile(file, []byte(patched), 0o644); err != nil {
		return "", fmt.Errorf("writing scratch file for %s: %w", c.Path, err)
	}

	gate, _, err := v.gate.RunGate(ctx, checks.GateOpts{Dir: dir, File: file, Checks: v.checks})
	if err != nil {
		return "", fmt.Errorf("checker failed for %s: %w", c.Path, err)
	}
	if !gate.Passed {
		return "", fmt.Errorf("lint failed for %s:\n%s", c.Path, gate.Diagnostic())
	}

	fixed, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("reading fixed %s: %w", c.Path, err)
	}
	return patch.Rediff(c.Path, original, string(fixed)), nil
}
