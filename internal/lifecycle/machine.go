package lifecycle

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lucasnoah/patchfactory/internal/agent"
	"github.com/lucasnoah/patchfactory/internal/artifacts"
	"github.com/lucasnoah/patchfactory/internal/config"
	"github.com/lucasnoah/patchfactory/internal/evaluator"
	"github.com/lucasnoah/patchfactory/internal/graph"
	"github.com/lucasnoah/patchfactory/internal/problem"
	"github.com/lucasnoah/patchfactory/internal/trajectory"
	"github.com/lucasnoah/patchfactory/internal/validator"
)

// Generator produces a candidate patch.
type Generator interface {
	Generate(ctx context.Context, task agent.Task) (string, error)
}

// PatchValidator checks and cleans a patch.
type PatchValidator interface {
	Validate(ctx context.Context, diff string) validator.Outcome
}

// Evaluator runs a patch through the benchmark harness.
type Evaluator interface {
	Evaluate(ctx context.Context, patch string) (*evaluator.Result, error)
}

// Deps are the collaborators the nodes call.
type Deps struct {
	Problem   problem.Problem
	RepoPath  string
	Agent     Generator
	Validator PatchValidator
	Evaluator Evaluator
	Store     *artifacts.Store
	Sink      trajectory.Sink
	Logger    *slog.Logger
}

// Config bounds the retry loop.
type Config struct {
	MaxValidationAttempts int
	MaxEvaluationAttempts int
	RetryOnUnresolved     bool
	StepLimit             int
	LoadCache             bool
	SaveCache             bool
}

// ConfigFrom maps agent configuration onto the lifecycle.
func ConfigFrom(a config.Agent) Config {
	return Config{
		MaxValidationAttempts: a.Lifecycle.MaxValidationAttempts,
		MaxEvaluationAttempts: a.Lifecycle.MaxEvaluationAttempts,
		RetryOnUnresolved:     a.Lifecycle.RetryOnUnresolved,
		StepLimit:             a.Lifecycle.StepLimit,
		LoadCache:             a.LoadCache,
		SaveCache:             a.ShouldSaveCache(),
	}
}

// Machine is the compiled lifecycle for one problem instance.
type Machine struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// New creates a Machine. The agent may be nil; generation then fails with
// ErrAgentNotInitialized.
func New(deps Deps, cfg Config) (*Machine, error) {
	if deps.Validator == nil {
		return nil, errors.New("lifecycle: validator is required")
	}
	if deps.Evaluator == nil {
		return nil, errors.New("lifecycle: evaluator is required")
	}
	if deps.Sink == nil {
		deps.Sink = trajectory.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.MaxValidationAttempts <= 0 {
		cfg.MaxValidationAttempts = config.DefaultMaxValidationAttempts
	}
	if cfg.MaxEvaluationAttempts <= 0 {
		cfg.MaxEvaluationAttempts = config.DefaultMaxEvaluationAttempts
	}
	if (cfg.SaveCache || cfg.LoadCache) && deps.Store == nil {
		return nil, errors.New("lifecycle: patch cache needs an artifact store")
	}
	return &Machine{deps: deps, cfg: cfg, logger: deps.Logger}, nil
}

// Graph builds the lifecycle graph with the given observers attached.
func (m *Machine) Graph(observers ...graph.Observer[PatchState]) (*graph.Runnable[PatchState], error) {
	g := graph.New[PatchState]().
		AddNode(NodeGenerate, m.generate).
		AddNode(NodeValidate, m.validate).
		AddNode(NodeEvaluate, m.evaluate).
		SetEntry(NodeGenerate).
		AddEdge(NodeGenerate, NodeValidate).
		AddConditionalEdges(NodeValidate, m.afterValidate, NodeEvaluate, NodeGenerate, graph.End).
		AddConditionalEdges(NodeEvaluate, m.afterEvaluate, NodeGenerate, graph.End).
		SetStepLimit(m.cfg.StepLimit)
	for _, o := range observers {
		g.Observe(o)
	}
	return g.Compile()
}

// Run executes the lifecycle from a fresh state. The final state is always
// returned, also alongside an error.
func (m *Machine) Run(ctx context.Context, observers ...graph.Observer[PatchState]) (PatchState, error) {
	state := NewState(m.deps.Problem)
	r, err := m.Graph(observers...)
	if err != nil {
		return state, err
	}
	m.logger.Info("lifecycle started",
		"max_validation_attempts", m.cfg.MaxValidationAttempts,
		"max_evaluation_attempts", m.cfg.MaxEvaluationAttempts)
	final, err := r.Run(ctx, state)
	if err != nil {
		m.logger.Error("lifecycle failed", "node", final.Node, "error", err)
		return final, err
	}
	m.logger.Info("lifecycle finished", "node", final.Node,
		"validation", final.Validation.Result, "evaluation", final.Evaluation.Result,
		"status", final.EvaluationStatus)
	return final, nil
}
