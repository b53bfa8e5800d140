// Package evaluator runs a candidate patch through the external benchmark
// harness and classifies the outcome.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/lucasnoah/patchfactory/internal/artifacts"
	"github.com/lucasnoah/patchfactory/internal/localization"
	"github.com/lucasnoah/patchfactory/internal/patch"
	"github.com/lucasnoah/patchfactory/internal/problem"
)

// Status classifies an evaluated instance.
type Status string

const (
	StatusResolved   Status = "RESOLVED"
	StatusUnresolved Status = "UNRESOLVED"
	StatusUnknown    Status = "UNKNOWN"
	StatusError      Status = "ERROR"
)

// SkippedApplyRunID marks results where the harness never ran because the
// patch did not apply.
const SkippedApplyRunID = "skipped-apply"

// ErrMissingReport means the harness exited cleanly but wrote no report.
var ErrMissingReport = errors.New("harness report not found")

// Result is the outcome of one evaluation.
type Result struct {
	Status     Status              `json:"status"`
	RunID      string              `json:"run_id"`
	Report     map[string]any      `json:"report,omitempty"`
	ReportPath string              `json:"report_path,omitempty"`
	Log        string              `json:"log"`
	Scores     localization.Scores `json:"scores"`
}

// Workspace is the version-control surface the evaluator needs.
type Workspace interface {
	EnsureAt(dir, commit string) error
	ApplyCheck(dir, patchFile string) (ok bool, output string, err error)
}

// Options configures an Evaluator.
type Options struct {
	Problem    problem.Problem
	RepoPath   string
	Model      string
	Workspace  Workspace
	Harness    Harness
	HarnessDir string
	Store      *artifacts.Store
	MaxWorkers int
	Dataset    string
	Split      string
	Namespace  string
	Logger     *slog.Logger
}

// Evaluator evaluates patches for one problem instance.
type Evaluator struct {
	opts     Options
	newRunID func() string
	logger   *slog.Logger
}

// New creates an Evaluator.
func New(opts Options) *Evaluator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{opts: opts, newRunID: NewRunID, logger: logger}
}

// NewRunID returns a fresh harness run id.
func NewRunID() string {
	return "agent-eval-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ReportName is the file the harness writes for model and runID.
func ReportName(model, runID string) string {
	return strings.ReplaceAll(model, "/", "__") + "." + runID + ".json"
}

// Evaluate resets the checkout, dry-runs the patch, runs the harness and
// reads back its report. A patch that does not apply is reported as
// StatusError without running the harness. Infrastructure failures are
// returned as errors.
func (e *Evaluator) Evaluate(ctx context.Context, patchText string) (*Result, error) {
	p := e.opts.Problem
	text := patch.Normalize(patchText)
	scores := localization.Score(text, p.ReferencePatch())

	if err := e.opts.Workspace.EnsureAt(e.opts.RepoPath, p.BaseCommit); err != nil {
		return nil, err
	}

	if err := e.opts.Store.SavePatch(p.InstanceID, text); err != nil {
		return nil, err
	}
	// git runs inside the checkout, so the patch path must not be relative.
	patchPath, err := filepath.Abs(e.opts.Store.PatchPath(p.InstanceID))
	if err != nil {
		return nil, err
	}
	ok, out, err := e.opts.Workspace.ApplyCheck(e.opts.RepoPath, patchPath)
	if err != nil {
		return nil, fmt.Errorf("dry-run apply: %w", err)
	}
	if !ok {
		e.logApplyFailure(text, out)
		return &Result{Status: StatusError, RunID: SkippedApplyRunID, Log: out, Scores: scores}, nil
	}

	predPath, err := e.opts.Store.SavePredictions(p.InstanceID, []artifacts.Prediction{{
		InstanceID:      p.InstanceID,
		ModelPatch:      text,
		ModelNameOrPath: e.opts.Model,
	}})
	if err != nil {
		return nil, err
	}
	absPred, err := filepath.Abs(predPath)
	if err != nil {
		return nil, err
	}

	runID := e.newRunID()
	e.logger.Info("running evaluation harness", "run_id", runID)
	log, err := e.opts.Harness.Run(ctx, HarnessRequest{
		PredictionsPath: absPred,
		RunID:           runID,
		InstanceID:      p.InstanceID,
		MaxWorkers:      e.opts.MaxWorkers,
		Dataset:         e.opts.Dataset,
		Split:           e.opts.Split,
		Namespace:       e.opts.Namespace,
	})
	if err != nil {
		return nil, err
	}

	src := filepath.Join(e.opts.HarnessDir, ReportName(e.opts.Model, runID))
	if _, err := os.Stat(src); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingReport, src)
	}
	reportPath, err := e.opts.Store.Relocate(src)
	if err != nil {
		return nil, err
	}
	var report map[string]any
	if err := artifacts.ReadJSON(reportPath, &report); err != nil {
		return nil, fmt.Errorf("read harness report: %w", err)
	}
	if report == nil {
		return nil, fmt.Errorf("%w: %s holds no JSON object", ErrMissingReport, reportPath)
	}

	report["localization_score_file"] = scores.File
	report["localization_score_line"] = scores.Line
	if err := artifacts.WriteJSON(reportPath, report); err != nil {
		return nil, err
	}

	status := Classify(report, p.InstanceID)
	e.logger.Info("evaluation finished", "run_id", runID, "status", status,
		"file_score", scores.File, "line_score", scores.Line)
	return &Result{
		Status:     status,
		RunID:      runID,
		Report:     report,
		ReportPath: reportPath,
		Log:        log,
		Scores:     scores,
	}, nil
}

func (e *Evaluator) logApplyFailure(generated, output string) {
	attrs := []any{"output", strings.TrimSpace(output)}
	if ref := e.opts.Problem.ReferencePatch(); ref != nil {
		attrs = append(attrs, "diff_vs_reference", patch.Rediff("patch", patch.Normalize(*ref), generated))
	}
	e.logger.Warn("patch does not apply, skipping harness", attrs...)
}

// Classify reports whether instanceID is in the report's resolved or
// unresolved id lists.
func Classify(report map[string]any, instanceID string) Status {
	switch {
	case slices.Contains(stringList(report["resolved_ids"]), instanceID):
		return StatusResolved
	case slices.Contains(stringList(report["unresolved_ids"]), instanceID):
		return StatusUnresolved
	default:
		return StatusUnknown
	}
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// NoLogs is the summary used when the evaluation produced no output.
const NoLogs = "(No evaluation logs available.)"

// FailureSummary picks up to maxLines lines mentioning FAILED or rejects
// from log, falling back to its first maxLines lines.
func FailureSummary(log string, maxLines int) string {
	if maxLines <= 0 {
		maxLines = 10
	}
	trimmed := strings.TrimSpace(log)
	if trimmed == "" {
		return NoLogs
	}
	lines := strings.Split(trimmed, "\n")
	var failures []string
	for _, l := range lines {
		if strings.Contains(l, "FAILED") || strings.Contains(l, "rejects") {
			failures = append(failures, l)
		}
	}
	if len(failures) == 0 {
		failures = lines
	}
	if len(failures) > maxLines {
		failures = failures[:maxLines]
	}
	return strings.Join(failures, "\n")
}
