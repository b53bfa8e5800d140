package evaluator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lucasnoah/patchfactory/internal/checks"
	"github.com/lucasnoah/patchfactory/internal/config"
)

// HarnessRequest scopes one harness run to a single instance.
type HarnessRequest struct {
	PredictionsPath string
	RunID           string
	InstanceID      string
	MaxWorkers      int
	Dataset         string
	Split           string
	Namespace       string
}

// Harness runs the external benchmark evaluation and returns its log.
type Harness interface {
	Run(ctx context.Context, req HarnessRequest) (string, error)
}

// HarnessError reports a harness process that exited non-zero or could not
// be started. It indicates broken infrastructure, not a bad patch.
type HarnessError struct {
	ExitCode int
	Output   string
	Err      error
}

func (e *HarnessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evaluation harness failed: %v", e.Err)
	}
	return fmt.Sprintf("evaluation harness exited with code %d: %s", e.ExitCode, lastLines(e.Output, 5))
}

func (e *HarnessError) Unwrap() error { return e.Err }

// ExecHarness runs the harness as a subprocess in Dir.
type ExecHarness struct {
	Command []string
	Dir     string
	Runner  checks.CommandRunner
}

// NewExecHarness builds the harness from config.
func NewExecHarness(h config.Harness, runner checks.CommandRunner) *ExecHarness {
	if runner == nil {
		runner = &checks.ExecRunner{}
	}
	return &ExecHarness{Command: h.Command, Dir: h.Dir, Runner: runner}
}

// Args returns the full harness argv for req.
func (h *ExecHarness) Args(req HarnessRequest) []string {
	argv := append([]string(nil), h.Command...)
	argv = append(argv,
		"--predictions_path", req.PredictionsPath,
		"--run_id", req.RunID,
		"--instance_ids", req.InstanceID,
		"--max_workers", strconv.Itoa(max(1, req.MaxWorkers)),
	)
	if req.Dataset != "" {
		argv = append(argv, "--dataset_name", req.Dataset)
	}
	if req.Split != "" {
		argv = append(argv, "--split", req.Split)
	}
	if req.Namespace != "" {
		argv = append(argv, "--namespace", req.Namespace)
	}
	return argv
}

// Run invokes the harness. No timeout is applied beyond ctx.
func (h *ExecHarness) Run(ctx context.Context, req HarnessRequest) (string, error) {
	if len(h.Command) == 0 {
		return "", &HarnessError{ExitCode: -1, Err: fmt.Errorf("no harness command configured")}
	}
	stdout, stderr, code, err := h.Runner.Run(ctx, h.Dir, h.Args(req))
	log := joinOutput(stdout, stderr)
	if err != nil {
		return log, &HarnessError{ExitCode: -1, Output: log, Err: err}
	}
	if code != 0 {
		return log, &HarnessError{ExitCode: code, Output: log}
	}
	return log, nil
}

func joinOutput(stdout, stderr string) string {
	switch {
	case stderr == "":
		return stdout
	case stdout == "":
		return stderr
	}
	return strings.TrimRight(stdout, "\n") + "\n" + stderr
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
