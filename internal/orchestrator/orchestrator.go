// Package orchestrator wires the components of a lifecycle run together
// and persists its outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/patchfactory/internal/agent"
	"github.com/lucasnoah/patchfactory/internal/artifacts"
	"github.com/lucasnoah/patchfactory/internal/checks"
	"github.com/lucasnoah/patchfactory/internal/config"
	"github.com/lucasnoah/patchfactory/internal/db"
	"github.com/lucasnoah/patchfactory/internal/env"
	"github.com/lucasnoah/patchfactory/internal/evaluator"
	"github.com/lucasnoah/patchfactory/internal/graph"
	"github.com/lucasnoah/patchfactory/internal/lifecycle"
	"github.com/lucasnoah/patchfactory/internal/llm"
	"github.com/lucasnoah/patchfactory/internal/metrics"
	"github.com/lucasnoah/patchfactory/internal/problem"
	"github.com/lucasnoah/patchfactory/internal/validator"
)

// Workspace prepares and inspects repository checkouts. *repo.Manager
// satisfies it.
type Workspace interface {
	env.Preparer
	evaluator.Workspace
}

// Ledger records runs and node executions. *db.DB satisfies it.
type Ledger interface {
	StartRun(ctx context.Context, instanceID, model string) (string, error)
	LogNodeEvent(ctx context.Context, e db.NodeEvent) error
	FinishRun(ctx context.Context, runID string, o db.RunOutcome) error
}

// Deps are the long-lived collaborators shared by every run.
type Deps struct {
	Workspace Workspace
	Provider  llm.Provider         // nil leaves the agent uninitialized
	Commands  checks.CommandRunner // checkers and the bash tool
	Harness   evaluator.Harness
	Ledger    Ledger // optional
	Logger    *slog.Logger
}

// Orchestrator runs problem instances through the patch lifecycle.
type Orchestrator struct {
	cfg    config.Agent
	deps   Deps
	store  *artifacts.Store
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator writing to cfg.Paths.Output.
func NewOrchestrator(cfg config.Agent, deps Deps) *Orchestrator {
	if deps.Commands == nil {
		deps.Commands = &checks.ExecRunner{}
	}
	if deps.Harness == nil {
		deps.Harness = evaluator.NewExecHarness(cfg.Harness, deps.Commands)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		store:  artifacts.NewStore(cfg.Paths.Output),
		logger: deps.Logger,
	}
}

// Store returns the artifact store runs write to.
func (o *Orchestrator) Store() *artifacts.Store {
	return o.store
}

// Samples is the configured number of candidates per sampled run.
func (o *Orchestrator) Samples() int {
	return o.cfg.Samples
}

// NewValidator builds the patch validator for a checkout.
func (o *Orchestrator) NewValidator(repoPath string, logger *slog.Logger) (*validator.Validator, error) {
	cfgs, err := checks.FromConfig(o.cfg)
	if err != nil {
		return nil, err
	}
	return validator.New(repoPath, checks.NewRunner(o.deps.Commands), cfgs, logger), nil
}

// RunResult is the outcome of one instance.
type RunResult struct {
	InstanceID string                `json:"instance_id"`
	State      lifecycle.PatchState  `json:"state"`
	Summary    *artifacts.RunSummary `json:"summary"`
	Err        error                 `json:"-"`
}

// Run drives one problem through the lifecycle. The result carries the
// final state even when err is non-nil.
func (o *Orchestrator) Run(ctx context.Context, p problem.Problem) (*RunResult, error) {
	return o.run(ctx, p, runSetup{store: o.store, provider: o.deps.Provider})
}

// runSetup is what differs between a plain run and one sampled candidate.
type runSetup struct {
	store    *artifacts.Store
	provider llm.Provider
	// reset returns the checkout to the base commit before generating, so
	// edits left by an earlier candidate do not leak into this one.
	reset bool
}

func (o *Orchestrator) run(ctx context.Context, p problem.Problem, setup runSetup) (*RunResult, error) {
	started := time.Now()
	logger := o.logger.With("instance_id", p.InstanceID)
	state := lifecycle.NewState(p)
	rec := metrics.New()
	store := setup.store

	runID := o.startRun(ctx, p, logger)
	res := &RunResult{InstanceID: p.InstanceID, State: state}

	// The summary marks a finished run; a leftover one from an earlier run
	// would end trajectory streams for this one immediately.
	if err := store.ClearSummary(p.InstanceID); err != nil {
		logger.Warn("clearing previous summary", "error", err)
	}

	e, err := env.New(p, env.Options{
		ReposDir:  o.cfg.Paths.Repos,
		OutputDir: store.BaseDir(),
		Repo:      o.deps.Workspace,
		Logger:    o.logger,
	})
	if err != nil {
		res.Summary = o.finish(ctx, store, runID, p, state, nil, rec, started, err, logger)
		return res, err
	}
	defer func() {
		if cerr := e.Close(); cerr != nil {
			logger.Warn("closing trajectory", "error", cerr)
		}
	}()

	if setup.reset {
		if err := o.deps.Workspace.EnsureAt(e.RepoPath, p.BaseCommit); err != nil {
			err = fmt.Errorf("reset checkout: %w", err)
			res.Summary = o.finish(ctx, store, runID, p, state, nil, rec, started, err, logger)
			return res, err
		}
	}

	machine, gen, err := o.build(e, setup.provider)
	if err != nil {
		res.Summary = o.finish(ctx, store, runID, p, state, gen, rec, started, err, logger)
		return res, err
	}

	final, runErr := machine.Run(ctx,
		o.metricsObserver(rec),
		o.ledgerObserver(runID, logger),
		o.snapshotObserver(e.Store, logger),
	)
	res.State = final
	res.Summary = o.finish(ctx, store, runID, p, final, gen, rec, started, runErr, logger)
	return res, runErr
}

// build assembles the validator, evaluator, agent and machine for e.
func (o *Orchestrator) build(e *env.Environment, provider llm.Provider) (*lifecycle.Machine, *agent.ToolCallingAgent, error) {
	v, err := o.NewValidator(e.RepoPath, e.Logger)
	if err != nil {
		return nil, nil, err
	}

	ev := evaluator.New(evaluator.Options{
		Problem:    e.Problem,
		RepoPath:   e.RepoPath,
		Model:      o.cfg.Model.Name,
		Workspace:  o.deps.Workspace,
		Harness:    o.deps.Harness,
		HarnessDir: o.cfg.Harness.Dir,
		Store:      e.Store,
		MaxWorkers: o.cfg.Harness.MaxWorkers,
		Dataset:    o.cfg.Harness.Dataset,
		Split:      o.cfg.Harness.Split,
		Namespace:  o.cfg.Harness.Namespace,
		Logger:     e.Logger,
	})

	deps := lifecycle.Deps{
		Problem:   e.Problem,
		RepoPath:  e.RepoPath,
		Validator: v,
		Evaluator: ev,
		Store:     e.Store,
		Sink:      e.Trajectory,
		Logger:    e.Logger,
	}
	gen, err := o.newAgent(e, v, provider)
	if err != nil {
		e.Logger.Error("agent not initialized", "error", err)
	} else {
		deps.Agent = gen
	}

	m, err := lifecycle.New(deps, lifecycle.ConfigFrom(o.cfg))
	return m, gen, err
}

func (o *Orchestrator) newAgent(e *env.Environment, v *validator.Validator, provider llm.Provider) (*agent.ToolCallingAgent, error) {
	if provider == nil {
		return nil, errors.New("no LLM provider configured")
	}
	bashTimeout, _ := time.ParseDuration(o.cfg.Tools.BashTimeout)
	thinker, err := agent.NewThinkerTool(provider, o.cfg.Tools.ThinkingMaxStep, e.Trajectory)
	if err != nil {
		return nil, err
	}
	tools := agent.NewToolset([]agent.Tool{
		agent.NewBashTool(e.RepoPath, o.deps.Commands, bashTimeout),
		agent.NewEditorTool(e.RepoPath),
		thinker,
		&agent.ValidatorTool{Validator: v},
	}, o.cfg.Tools.Disabled...)

	a, err := agent.New(agent.Options{
		Provider:    provider,
		Tools:       tools,
		MaxSteps:    o.cfg.MaxSteps,
		Template:    o.cfg.PromptTemplate,
		TemplateDir: o.cfg.TemplateDir,
		Pricing:     llm.PricingFromConfig(o.cfg.Model),
		Sink:        e.Trajectory,
		Logger:      e.Logger,
	})
	if err != nil {
		return nil, err
	}
	thinker.OnUsage = a.AddUsage
	return a, nil
}

func (o *Orchestrator) startRun(ctx context.Context, p problem.Problem, logger *slog.Logger) string {
	if o.deps.Ledger != nil {
		id, err := o.deps.Ledger.StartRun(ctx, p.InstanceID, o.cfg.Model.Name)
		if err == nil {
			return id
		}
		logger.Warn("ledger: start run", "error", err)
	}
	return uuid.NewString()
}

// finish writes the state snapshot, summary and metrics and closes the
// ledger row. Persistence failures are logged, never returned.
func (o *Orchestrator) finish(ctx context.Context, store *artifacts.Store, runID string, p problem.Problem, s lifecycle.PatchState,
	a *agent.ToolCallingAgent, rec *metrics.Recorder, started time.Time, runErr error, logger *slog.Logger) *artifacts.RunSummary {

	sum := Summarize(runID, o.cfg.Model.Name, s, runErr)
	sum.StartedAt = started.UTC().Format(time.RFC3339)
	sum.Duration = time.Since(started).Round(time.Millisecond).String()
	if a != nil {
		u := a.Usage()
		sum.PromptTokens = u.PromptTokens
		sum.CompletionTokens = u.CompletionTokens
		sum.CostUSD = a.Cost()
		rec.AddTokens(u.PromptTokens, u.CompletionTokens)
	}

	if err := store.SaveState(p.InstanceID, s); err != nil {
		logger.Warn("saving state", "error", err)
	}
	if err := store.SaveSummary(sum); err != nil {
		logger.Warn("saving summary", "error", err)
	}
	if err := rec.WriteTextfile(store.MetricsPath(p.InstanceID)); err != nil {
		logger.Warn("writing metrics", "error", err)
	}
	if o.deps.Ledger != nil {
		err := o.deps.Ledger.FinishRun(ctx, runID, db.RunOutcome{
			Status:             sum.Status,
			FinalNode:          sum.FinalNode,
			EvaluationStatus:   sum.EvaluationStatus,
			GenerationAttempts: sum.GenerationAttempts,
			ValidationAttempts: sum.ValidationAttempts,
			EvaluationAttempts: sum.EvaluationAttempts,
			FileScore:          sum.FileScore,
			LineScore:          sum.LineScore,
			Error:              sum.Error,
		})
		if err != nil {
			logger.Warn("ledger: finish run", "error", err)
		}
	}
	logger.Info("run finished", "status", sum.Status, "final_node", sum.FinalNode, "duration", sum.Duration)
	return sum
}

// Summary statuses.
const (
	StatusResolved   = "resolved"
	StatusUnresolved = "unresolved"
	StatusUnknown    = "unknown"
	StatusError      = "error"
	StatusFailed     = "failed"
)

// Summarize maps a final state onto a run summary.
func Summarize(runID, model string, s lifecycle.PatchState, runErr error) *artifacts.RunSummary {
	sum := &artifacts.RunSummary{
		InstanceID:         s.InstanceID,
		RunID:              runID,
		Model:              model,
		FinalNode:          s.Node,
		EvaluationStatus:   string(s.EvaluationStatus),
		EvaluationRunID:    s.EvaluationRunID,
		GenerationAttempts: s.Generation.Attempts,
		ValidationAttempts: s.Validation.Attempts,
		EvaluationAttempts: s.Evaluation.Attempts,
		ValidationError:    s.Validation.ErrMsg,
		EvaluationError:    s.Evaluation.ErrMsg,
		FileScore:          s.Scores.File,
		LineScore:          s.Scores.Line,
		FilesChanged:       s.Stats.Files,
		LinesAdded:         s.Stats.LinesAdded,
		LinesRemoved:       s.Stats.LinesRemoved,
	}
	switch {
	case runErr != nil:
		sum.Status = StatusError
		sum.Error = runErr.Error()
	case s.Resolved():
		sum.Status = StatusResolved
	case s.EvaluationStatus == evaluator.StatusUnresolved:
		sum.Status = StatusUnresolved
	case s.EvaluationStatus == evaluator.StatusUnknown:
		sum.Status = StatusUnknown
	case s.EvaluationStatus == evaluator.StatusError:
		sum.Status = StatusError
	default:
		sum.Status = StatusFailed
	}
	return sum
}

func phaseOf(s lifecycle.PatchState, node string) lifecycle.Phase {
	switch node {
	case lifecycle.NodeGenerate:
		return s.Generation
	case lifecycle.NodeValidate:
		return s.Validation
	case lifecycle.NodeEvaluate:
		return s.Evaluation
	}
	return lifecycle.Phase{}
}

func (o *Orchestrator) metricsObserver(rec *metrics.Recorder) graph.Observer[lifecycle.PatchState] {
	return func(_ context.Context, ev graph.Event[lifecycle.PatchState]) {
		rec.ObserveNode(ev.Node, string(phaseOf(ev.State, ev.Node).Result), ev.Duration)
		if ev.Node == lifecycle.NodeEvaluate && ev.State.EvaluationStatus != "" {
			rec.ObserveEvaluation(string(ev.State.EvaluationStatus))
		}
	}
}

func (o *Orchestrator) ledgerObserver(runID string, logger *slog.Logger) graph.Observer[lifecycle.PatchState] {
	return func(ctx context.Context, ev graph.Event[lifecycle.PatchState]) {
		if o.deps.Ledger == nil {
			return
		}
		ph := phaseOf(ev.State, ev.Node)
		detail := ph.ErrMsg
		if ev.Err != nil {
			detail = ev.Err.Error()
		}
		err := o.deps.Ledger.LogNodeEvent(ctx, db.NodeEvent{
			RunID:    runID,
			Node:     ev.Node,
			Step:     ev.Step,
			Result:   string(ph.Result),
			Attempt:  ph.Attempts,
			Duration: ev.Duration,
			Detail:   detail,
		})
		if err != nil {
			logger.Warn("ledger: log node event", "error", err)
		}
	}
}

// snapshotObserver rewrites <id>.state.json after every node so a crashed
// run can be inspected.
func (o *Orchestrator) snapshotObserver(store *artifacts.Store, logger *slog.Logger) graph.Observer[lifecycle.PatchState] {
	return func(_ context.Context, ev graph.Event[lifecycle.PatchState]) {
		if err := store.SaveState(ev.State.InstanceID, ev.State); err != nil {
			logger.Warn("saving state snapshot", "node", ev.Node, "error", err)
		}
	}
}

// RunBatch runs problems concurrently, at most parallel at a time. A
// failing instance does not stop the others; its error is in its result.
func (o *Orchestrator) RunBatch(ctx context.Context, problems []problem.Problem, parallel int) []*RunResult {
	if parallel <= 0 {
		parallel = 1
	}
	results := make([]*RunResult, len(problems))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, p := range problems {
		g.Go(func() error {
			res, err := o.Run(ctx, p)
			if res == nil {
				res = &RunResult{InstanceID: p.InstanceID, State: lifecycle.NewState(p)}
			}
			res.Err = err
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Status returns the stored summary for an instance.
func (o *Orchestrator) Status(instanceID string) (*artifacts.RunSummary, error) {
	sum, err := o.store.GetSummary(instanceID)
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	return sum, nil
}

// StatusAll returns every stored summary, optionally filtered by status.
func (o *Orchestrator) StatusAll(status string) ([]artifacts.RunSummary, error) {
	sums, err := o.store.List(status)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	return sums, nil
}
