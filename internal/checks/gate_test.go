package checks

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/patchfactory/internal/config"
)

func gateChecks() []CheckConfig {
	return []CheckConfig{
		ruffCheck,
		{Name: "compile", Command: []string{"python", "-m", "py_compile", FilePlaceholder}, Parser: "generic"},
	}
}

func TestRunGate_AllPass(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{ExitCode: 0, Stdout: "All checks passed!"},
			{ExitCode: 0},
		},
	}
	runner := NewRunner(mock)

	gate, results, err := runner.RunGate(context.Background(), GateOpts{
		Dir:    "/tmp/scratch",
		File:   "/tmp/scratch/mod.py",
		Checks: gateChecks(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gate.Passed {
		t.Error("expected gate to pass")
	}
	if gate.File != "/tmp/scratch/mod.py" {
		t.Errorf("File = %q", gate.File)
	}
	if len(gate.Checks) != 2 {
		t.Fatalf("expected 2 check results, got %d", len(gate.Checks))
	}
	if len(gate.RemainingFailures) != 0 {
		t.Errorf("expected no failures, got %d", len(gate.RemainingFailures))
	}
	if len(results) != 2 {
		t.Errorf("expected 2 raw results, got %d", len(results))
	}
	if gate.Diagnostic() != "" {
		t.Errorf("Diagnostic() = %q, want empty", gate.Diagnostic())
	}
}

func TestRunGate_StopOnFirstFailure(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{ExitCode: 1, Stdout: "mod.py:1:1: E999 SyntaxError: invalid syntax"},
		},
	}
	runner := NewRunner(mock)

	gate, results, err := runner.RunGate(context.Background(), GateOpts{
		File:   "mod.py",
		Checks: gateChecks(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gate.Passed {
		t.Error("expected gate to fail")
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result (stopped), got %d", len(results))
	}
	if len(mock.calls) != 1 {
		t.Errorf("expected 1 call, got %d", len(mock.calls))
	}
	if !strings.Contains(gate.Diagnostic(), "[ruff]") || !strings.Contains(gate.Diagnostic(), "E999") {
		t.Errorf("Diagnostic() = %q", gate.Diagnostic())
	}
}

func TestRunGate_ContinueAfterFailure(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{ExitCode: 1, Stdout: "mod.py:1:1: F401 `os` imported but unused"},
			{ExitCode: 1, Stderr: "SyntaxError"},
		},
	}
	runner := NewRunner(mock)

	gate, results, err := runner.RunGate(context.Background(), GateOpts{
		File:     "mod.py",
		Checks:   gateChecks(),
		Continue: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}
	if len(gate.RemainingFailures) != 2 {
		t.Errorf("expected 2 remaining failures, got %d", len(gate.RemainingFailures))
	}
	lines := strings.Split(gate.Diagnostic(), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "[ruff]") || !strings.HasPrefix(lines[1], "[compile]") {
		t.Errorf("Diagnostic() lines = %q", lines)
	}
}

func TestRunGate_EmptyChecks(t *testing.T) {
	runner := NewRunner(&mockCmd{})
	gate, results, err := runner.RunGate(context.Background(), GateOpts{File: "f.py"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gate.Passed {
		t.Error("expected an empty gate to pass")
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestGateResult_JSON(t *testing.T) {
	gate := &GateResult{
		File:   "f.py",
		Passed: false,
		Checks: []GateCheckResult{{Check: "ruff", Passed: false, Runs: 1, Summary: "2 violation(s)"}},
		RemainingFailures: map[string]GateFailure{
			"ruff": {Summary: "2 violation(s)"},
		},
	}
	out, err := gate.JSON()
	if err != nil {
		t.Fatalf("JSON() error: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["file"] != "f.py" {
		t.Errorf("file = %v", decoded["file"])
	}
}

func TestFromConfig(t *testing.T) {
	a := config.Default().Agent
	a.Checks["compile"] = config.Check{Command: []string{"python", "-m", "py_compile", "{file}"}, Timeout: "5s"}
	a.ValidationChecks = []string{"compile", "ruff"}

	got, err := FromConfig(a)
	if err != nil {
		t.Fatalf("FromConfig() error: %v", err)
	}
	if len(got) != 2 || got[0].Name != "compile" || got[1].Name != "ruff" {
		t.Fatalf("FromConfig() = %+v, want compile then ruff", got)
	}
	if got[0].Timeout != 5*time.Second {
		t.Errorf("compile timeout = %s, want 5s", got[0].Timeout)
	}

	a.ValidationChecks = []string{"mypy"}
	if _, err := FromConfig(a); err == nil {
		t.Error("expected error for undefined check")
	}
}
