package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/patchfactory/internal/agent"
	"github.com/lucasnoah/patchfactory/internal/artifacts"
	"github.com/lucasnoah/patchfactory/internal/evaluator"
	"github.com/lucasnoah/patchfactory/internal/graph"
	"github.com/lucasnoah/patchfactory/internal/localization"
	"github.com/lucasnoah/patchfactory/internal/logging"
	"github.com/lucasnoah/patchfactory/internal/problem"
	"github.com/lucasnoah/patchfactory/internal/trajectory"
	"github.com/lucasnoah/patchfactory/internal/validator"
)

const testPatch = `diff --git a/m.py b/m.py
--- a/m.py
+++ b/m.py
@@ -1,3 +1,3 @@
 a
-b
+B
 c
`

type fakeAgent struct {
	patches []string
	err     error
	tasks   []agent.Task
}

func (a *fakeAgent) Generate(_ context.Context, task agent.Task) (string, error) {
	a.tasks = append(a.tasks, task)
	if a.err != nil {
		return "", a.err
	}
	if len(a.patches) == 0 {
		return testPatch, nil
	}
	p := a.patches[0]
	if len(a.patches) > 1 {
		a.patches = a.patches[1:]
	}
	return p, nil
}

type fakeValidator struct {
	outcomes []validator.Outcome
	calls    int
}

func (v *fakeValidator) Validate(_ context.Context, diff string) validator.Outcome {
	v.calls++
	if len(v.outcomes) == 0 {
		return validator.Outcome{Status: validator.StatusPassed, CleanedPatch: diff}
	}
	out := v.outcomes[0]
	if len(v.outcomes) > 1 {
		v.outcomes = v.outcomes[1:]
	}
	return out
}

type fakeEvaluator struct {
	results []*evaluator.Result
	err     error
	patches []string
}

func (e *fakeEvaluator) Evaluate(_ context.Context, p string) (*evaluator.Result, error) {
	e.patches = append(e.patches, p)
	if e.err != nil {
		return nil, e.err
	}
	if len(e.results) == 0 {
		return &evaluator.Result{Status: evaluator.StatusResolved, RunID: "agent-eval-1"}, nil
	}
	r := e.results[0]
	if len(e.results) > 1 {
		e.results = e.results[1:]
	}
	return r, nil
}

type fatalErr struct{}

func (fatalErr) Error() string { return "HEAD is deadbeef, want abc1234" }
func (fatalErr) Fatal() bool   { return true }

var testProblem = problem.Problem{
	InstanceID:       "pkg__m-1",
	ProblemStatement: "b should be B",
	Repo:             "pkg/m",
	BaseCommit:       "abc1234",
	HintsText:        "look at m.py",
	Patch:            testPatch,
}

type harness struct {
	agent     *fakeAgent
	validator *fakeValidator
	evaluator *fakeEvaluator
	store     *artifacts.Store
	sink      *trajectory.Logger
}

func newMachine(t *testing.T, cfg Config) (*Machine, *harness) {
	t.Helper()
	h := &harness{
		agent:     &fakeAgent{},
		validator: &fakeValidator{},
		evaluator: &fakeEvaluator{},
		store:     artifacts.NewStore(t.TempDir()),
		sink:      trajectory.Memory(),
	}
	m, err := New(Deps{
		Problem:   testProblem,
		RepoPath:  "/repos/pkg__m-1",
		Agent:     h.agent,
		Validator: h.validator,
		Evaluator: h.evaluator,
		Store:     h.store,
		Sink:      h.sink,
		Logger:    logging.Discard(),
	}, cfg)
	require.NoError(t, err)
	return m, h
}

func TestNewState(t *testing.T) {
	s := NewState(testProblem)
	assert.Equal(t, "pkg__m-1", s.InstanceID)
	require.NotNil(t, s.ReferencePatch)
	assert.Equal(t, testPatch, *s.ReferencePatch)
	for _, p := range []Phase{s.Generation, s.Validation, s.Evaluation} {
		assert.Equal(t, Phase{Result: ResultInit}, p)
	}
	assert.Empty(t, s.Patch)
}

func TestRunHappyPath(t *testing.T) {
	m, h := newMachine(t, Config{})
	h.validator.outcomes = []validator.Outcome{{Status: validator.StatusPassed, CleanedPatch: "cleaned\n"}}
	h.evaluator.results = []*evaluator.Result{{
		Status: evaluator.StatusResolved,
		RunID:  "agent-eval-42",
		Log:    "ok",
		Report: map[string]any{"resolved_ids": []any{"pkg__m-1"}},
		Scores: localization.Scores{File: 1, Line: 1},
	}}

	var nodes []string
	final, err := m.Run(context.Background(), func(_ context.Context, ev graph.Event[PatchState]) {
		nodes = append(nodes, ev.Node)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{NodeGenerate, NodeValidate, NodeEvaluate}, nodes)
	assert.Equal(t, NodeEvaluate, final.Node)
	assert.Equal(t, "cleaned\n", final.Patch)
	assert.Equal(t, []string{"cleaned\n"}, h.evaluator.patches)
	assert.Equal(t, Phase{Result: ResultPassed, Attempts: 1}, final.Generation)
	assert.Equal(t, Phase{Result: ResultPassed, Attempts: 1}, final.Validation)
	assert.Equal(t, Phase{Result: ResultPassed, Attempts: 1}, final.Evaluation)
	assert.True(t, final.Resolved())
	assert.Equal(t, "agent-eval-42", final.EvaluationRunID)
	assert.Equal(t, 1.0, final.Scores.Line)
	assert.Equal(t, 1, final.Stats.Files)
	assert.Equal(t, 1, final.Stats.LinesAdded)

	require.Len(t, h.agent.tasks, 1)
	task := h.agent.tasks[0]
	assert.Equal(t, "b should be B", task.ProblemStatement)
	assert.Equal(t, "/repos/pkg__m-1", task.RepoPath)
	assert.Equal(t, "look at m.py", task.Hints)
	assert.Equal(t, 1, task.Attempt)
	assert.Empty(t, task.ValidationError)

	saved, ok, err := h.store.LoadPatch("pkg__m-1")
	require.NoError(t, err)
	assert.False(t, ok, "patch cache is off")
	assert.Empty(t, saved)
	assert.Equal(t, 3, h.sink.Steps())
}

func TestRunExhaustsValidationRetries(t *testing.T) {
	m, h := newMachine(t, Config{MaxValidationAttempts: 3})
	h.validator.outcomes = []validator.Outcome{{
		Status:  validator.StatusError,
		Message: "m.py: old_str not found",
	}}

	final, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, NodeValidate, final.Node)
	assert.Equal(t, 3, final.Validation.Attempts)
	assert.Equal(t, 3, final.Generation.Attempts)
	assert.Equal(t, 3, h.validator.calls)
	assert.Equal(t, ResultError, final.Validation.Result)
	assert.Equal(t, "m.py: old_str not found", final.LastError())
	assert.Empty(t, h.evaluator.patches)
	assert.Equal(t, ResultInit, final.Evaluation.Result)

	require.Len(t, h.agent.tasks, 3)
	assert.Empty(t, h.agent.tasks[0].ValidationError)
	assert.Equal(t, "m.py: old_str not found", h.agent.tasks[1].ValidationError)
	assert.Equal(t, 3, h.agent.tasks[2].Attempt)
}

func TestRunRecoversAfterValidationError(t *testing.T) {
	m, h := newMachine(t, Config{})
	h.validator.outcomes = []validator.Outcome{
		{Status: validator.StatusError, Message: "lint failed"},
		{Status: validator.StatusPassed, CleanedPatch: testPatch},
	}

	final, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, final.Generation.Attempts)
	assert.Equal(t, 2, final.Validation.Attempts)
	assert.Equal(t, ResultPassed, final.Validation.Result)
	assert.Empty(t, final.Validation.ErrMsg, "message is cleared on success")
	assert.True(t, final.Resolved())
}

func TestValidateCeilingShortCircuits(t *testing.T) {
	m, h := newMachine(t, Config{MaxValidationAttempts: 3})
	s := NewState(testProblem)
	s.Validation.Attempts = 3

	out, err := m.validate(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Validation.Attempts)
	assert.Equal(t, ResultError, out.Validation.Result)
	assert.Equal(t, "Maximum validation attempts reached", out.Validation.ErrMsg)
	assert.Zero(t, h.validator.calls)
	assert.Equal(t, graph.End, m.afterValidate(out))
}

func TestEvaluateCeilingShortCircuits(t *testing.T) {
	m, h := newMachine(t, Config{MaxEvaluationAttempts: 1})
	s := NewState(testProblem)
	s.Evaluation.Attempts = 1

	out, err := m.evaluate(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "Maximum evaluation attempts reached.", out.Evaluation.ErrMsg)
	assert.Empty(t, h.evaluator.patches)
}

func TestNodesOnlyTouchTheirOwnFields(t *testing.T) {
	m, _ := newMachine(t, Config{})
	s := NewState(testProblem)
	s.Patch = testPatch
	s.Generation = Phase{Result: ResultPassed, Attempts: 2}
	s.EvaluationLog = "previous log"

	out, err := m.validate(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, s.Generation, out.Generation)
	assert.Equal(t, s.Evaluation, out.Evaluation)
	assert.Equal(t, "previous log", out.EvaluationLog)
	assert.Equal(t, NodeValidate, out.Node)
}

func TestGenerateEmptyPatchIsFatal(t *testing.T) {
	m, h := newMachine(t, Config{})
	h.agent.patches = []string{"  \n\t"}

	final, err := m.Run(context.Background())
	require.ErrorIs(t, err, ErrEmptyPatch)
	assert.Equal(t, NodeGenerate, final.Node)
	assert.Equal(t, ResultError, final.Generation.Result)
	assert.Equal(t, 1, final.Generation.Attempts)
	assert.Zero(t, h.validator.calls)
}

func TestGenerateWithoutAgent(t *testing.T) {
	m, err := New(Deps{
		Problem:   testProblem,
		Validator: &fakeValidator{},
		Evaluator: &fakeEvaluator{},
		Logger:    logging.Discard(),
	}, Config{})
	require.NoError(t, err)

	final, err := m.Run(context.Background())
	require.ErrorIs(t, err, ErrAgentNotInitialized)
	assert.Equal(t, ResultError, final.Generation.Result)
}

func TestGenerateAgentErrorPropagates(t *testing.T) {
	m, h := newMachine(t, Config{})
	h.agent.err = agent.ErrMaxSteps

	final, err := m.Run(context.Background())
	require.ErrorIs(t, err, agent.ErrMaxSteps)
	assert.Contains(t, final.Generation.ErrMsg, agent.ErrMaxSteps.Error())
}

func TestEvaluateCrashBecomesError(t *testing.T) {
	m, h := newMachine(t, Config{})
	h.evaluator.err = &evaluator.HarnessError{ExitCode: 1, Output: "docker: not found"}

	final, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NodeEvaluate, final.Node)
	assert.Equal(t, ResultError, final.Evaluation.Result)
	assert.Equal(t, evaluator.StatusError, final.EvaluationStatus)
	assert.Contains(t, final.Evaluation.ErrMsg, "Evaluation crashed: *evaluator.HarnessError: ")
	assert.Len(t, h.evaluator.patches, 1)
}

func TestEvaluateFatalErrorPropagates(t *testing.T) {
	m, h := newMachine(t, Config{})
	h.evaluator.err = fmt.Errorf("reset checkout: %w", fatalErr{})

	final, err := m.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fatalErr{}))
	assert.Equal(t, ResultError, final.Evaluation.Result)
}

func TestUnresolvedIsTerminalByDefault(t *testing.T) {
	m, h := newMachine(t, Config{MaxEvaluationAttempts: 3})
	h.evaluator.results = []*evaluator.Result{{
		Status: evaluator.StatusUnresolved,
		Log:    "collected 3 items\nFAILED tests/test_m.py::test_b\n",
	}}

	final, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, final.Evaluation.Attempts)
	assert.Equal(t, 1, final.Generation.Attempts)
	assert.Equal(t, ResultError, final.Evaluation.Result)
	assert.Contains(t, final.Evaluation.ErrMsg, "UNRESOLVED")
	assert.Contains(t, final.Evaluation.ErrMsg, "FAILED tests/test_m.py::test_b")
	assert.False(t, final.Resolved())
}

func TestRetryOnUnresolved(t *testing.T) {
	m, h := newMachine(t, Config{MaxEvaluationAttempts: 2, RetryOnUnresolved: true})
	h.evaluator.results = []*evaluator.Result{{Status: evaluator.StatusUnresolved}}

	final, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, final.Evaluation.Attempts)
	assert.Equal(t, 2, final.Generation.Attempts)
	assert.Len(t, h.evaluator.patches, 2)
	require.Len(t, h.agent.tasks, 2)
	assert.Contains(t, h.agent.tasks[1].EvaluationError, "UNRESOLVED")
}

func TestPatchCache(t *testing.T) {
	t.Run("save", func(t *testing.T) {
		m, h := newMachine(t, Config{SaveCache: true})
		_, err := m.Run(context.Background())
		require.NoError(t, err)
		saved, ok, err := h.store.LoadPatch("pkg__m-1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, testPatch, saved)
	})
	t.Run("load on first attempt only", func(t *testing.T) {
		m, h := newMachine(t, Config{LoadCache: true})
		require.NoError(t, h.store.SavePatch("pkg__m-1", "cached diff\n"))
		h.validator.outcomes = []validator.Outcome{
			{Status: validator.StatusError, Message: "bad cached patch"},
			{Status: validator.StatusPassed, CleanedPatch: testPatch},
		}

		final, err := m.Run(context.Background())
		require.NoError(t, err)
		assert.Len(t, h.agent.tasks, 1, "agent runs only after the cached patch fails")
		assert.Equal(t, 2, h.agent.tasks[0].Attempt)
		assert.Equal(t, 2, final.Generation.Attempts)
	})
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{Evaluator: &fakeEvaluator{}}, Config{})
	assert.Error(t, err)
	_, err = New(Deps{Validator: &fakeValidator{}}, Config{})
	assert.Error(t, err)
	_, err = New(Deps{Validator: &fakeValidator{}, Evaluator: &fakeEvaluator{}}, Config{SaveCache: true})
	assert.Error(t, err)
}
