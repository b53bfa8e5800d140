// Package lifecycle drives one problem instance through the
// generate, validate and evaluate loop.
package lifecycle

import (
	"github.com/lucasnoah/patchfactory/internal/evaluator"
	"github.com/lucasnoah/patchfactory/internal/localization"
	"github.com/lucasnoah/patchfactory/internal/patch"
	"github.com/lucasnoah/patchfactory/internal/problem"
)

// Result tags the outcome of a phase.
type Result string

const (
	ResultInit   Result = "INIT"
	ResultPassed Result = "PASSED"
	ResultError  Result = "ERROR"
)

// Node names.
const (
	NodeGenerate = "generate_patch"
	NodeValidate = "validate_patch"
	NodeEvaluate = "evaluate_patch"
)

// Phase is the bookkeeping one node owns. Attempts only ever grows; the
// message is cleared when the phase passes.
type Phase struct {
	Result   Result `json:"result"`
	ErrMsg   string `json:"error_message,omitempty"`
	Attempts int    `json:"attempts"`
}

// PatchState is threaded through the lifecycle graph. Nodes receive it by
// value and return a copy with only their own fields changed.
type PatchState struct {
	InstanceID     string  `json:"instance_id"`
	Patch          string  `json:"patch"`
	ReferencePatch *string `json:"reference_patch,omitempty"`

	Generation Phase `json:"generation"`
	Validation Phase `json:"validation"`
	Evaluation Phase `json:"evaluation"`

	Node string `json:"node"`

	EvaluationStatus evaluator.Status    `json:"evaluation_status,omitempty"`
	EvaluationRunID  string              `json:"evaluation_run_id,omitempty"`
	EvaluationLog    string              `json:"evaluation_log,omitempty"`
	Report           map[string]any      `json:"report,omitempty"`
	Scores           localization.Scores `json:"scores"`
	Stats            patch.PatchStats    `json:"stats"`
}

// NewState returns the initial state for p: no patch, zero attempts and
// every phase at INIT.
func NewState(p problem.Problem) PatchState {
	return PatchState{
		InstanceID:     p.InstanceID,
		ReferencePatch: p.ReferencePatch(),
		Generation:     Phase{Result: ResultInit},
		Validation:     Phase{Result: ResultInit},
		Evaluation:     Phase{Result: ResultInit},
	}
}

// Resolved reports whether the last evaluation resolved the instance.
func (s PatchState) Resolved() bool {
	return s.Evaluation.Result == ResultPassed && s.EvaluationStatus == evaluator.StatusResolved
}

// LastError returns the message of the phase that failed last, if any.
func (s PatchState) LastError() string {
	switch s.Node {
	case NodeEvaluate:
		return s.Evaluation.ErrMsg
	case NodeValidate:
		return s.Validation.ErrMsg
	case NodeGenerate:
		return s.Generation.ErrMsg
	}
	return ""
}
