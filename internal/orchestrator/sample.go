package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/lucasnoah/patchfactory/internal/agent"
	"github.com/lucasnoah/patchfactory/internal/artifacts"
	"github.com/lucasnoah/patchfactory/internal/evaluator"
	"github.com/lucasnoah/patchfactory/internal/lifecycle"
	"github.com/lucasnoah/patchfactory/internal/llm"
	"github.com/lucasnoah/patchfactory/internal/problem"
)

// ErrNoCandidates is returned when no sampled run produced a patch.
var ErrNoCandidates = errors.New("no candidate produced a patch")

// How the candidates of a sampled run fared in evaluation.
const (
	EvalSomePassing = "some_passing" // at least one candidate resolved the instance
	EvalNoPassing   = "no_passing"   // candidates were evaluated, none resolved it
	EvalNoValid     = "no_valid"     // no candidate reached the harness
)

// Candidate is one sampled patch and how its lifecycle run ended.
type Candidate struct {
	Index            int          `json:"index"`
	Sampling         llm.Sampling `json:"sampling"`
	Patch            string       `json:"patch"`
	Status           string       `json:"status"`
	EvaluationStatus string       `json:"evaluation_status,omitempty"`
	EvaluationRunID  string       `json:"evaluation_run_id,omitempty"`
	FileScore        float64      `json:"localization_score_file"`
	LineScore        float64      `json:"localization_score_line"`
	Error            string       `json:"error,omitempty"`
}

// Decision records which candidate a sampled run settled on. SelectedIndex
// indexes the pool the model chose from; OriginalIndices maps the pool back
// to candidates.
type Decision struct {
	InstanceID      string `json:"instance_id"`
	SelectedIndex   int    `json:"selected_patch_idx"`
	OriginalIndices []int  `json:"original_indices"`
	Selected        int    `json:"selected_candidate"`
	Reason          string `json:"reason"`
	Fallback        bool   `json:"fallback,omitempty"`
	EvalStatus      string `json:"eval_status"`
}

// SampleResult is the outcome of a sampled run.
type SampleResult struct {
	InstanceID string                `json:"instance_id"`
	Candidates []Candidate           `json:"candidates"`
	Decision   *Decision             `json:"decision,omitempty"`
	Summary    *artifacts.RunSummary `json:"summary,omitempty"`
}

// Sample runs p through the lifecycle n times with varied sampling and asks
// the model to pick the best resulting patch. Candidate i keeps its
// artifacts under <output>/<id>.samples/<i>; the chosen patch and its
// summary are written to the top-level output directory.
func (o *Orchestrator) Sample(ctx context.Context, p problem.Problem, n int) (*SampleResult, error) {
	if n < 1 {
		return nil, fmt.Errorf("samples must be at least 1, got %d", n)
	}
	if o.deps.Provider == nil {
		return nil, lifecycle.ErrAgentNotInitialized
	}
	logger := o.logger.With("instance_id", p.InstanceID)
	if err := o.store.ClearSummary(p.InstanceID); err != nil {
		logger.Warn("clearing previous summary", "error", err)
	}

	cands, err := o.candidates(ctx, p, n, logger)
	if err != nil {
		return nil, err
	}
	res := &SampleResult{InstanceID: p.InstanceID, Candidates: cands}

	dec, usage, err := o.decide(ctx, p, cands, logger)
	if err != nil {
		return res, err
	}
	res.Decision = dec

	chosen := cands[dec.Selected]
	if err := o.store.SavePatch(p.InstanceID, chosen.Patch); err != nil {
		return res, err
	}
	sum, err := o.store.SampleStore(p.InstanceID, chosen.Index).GetSummary(p.InstanceID)
	if err != nil {
		return res, err
	}
	sum.Samples = len(cands)
	sum.SelectedSample = chosen.Index
	sum.PromptTokens += usage.PromptTokens
	sum.CompletionTokens += usage.CompletionTokens
	sum.CostUSD += llm.PricingFromConfig(o.cfg.Model).Cost(usage)
	if err := o.store.SaveSummary(sum); err != nil {
		return res, err
	}
	res.Summary = sum
	logger.Info("sampled run finished", "selected", chosen.Index, "status", sum.Status, "eval_status", dec.EvalStatus)
	return res, nil
}

// candidates runs or loads the n sampled lifecycle runs.
func (o *Orchestrator) candidates(ctx context.Context, p problem.Problem, n int, logger *slog.Logger) ([]Candidate, error) {
	path := o.store.CandidatesPath(p.InstanceID)
	if o.cfg.LoadCache {
		var cached []Candidate
		if err := artifacts.ReadJSON(path, &cached); err == nil && len(cached) > 0 {
			logger.Info("loaded cached candidates", "path", path, "count", len(cached))
			return cached, nil
		}
	}

	out := make([]Candidate, 0, n)
	for i := range n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := samplingFor(i)
		logger.Info("sampling candidate", "index", i, "temperature", s.Temperature, "top_p", s.TopP)
		res, err := o.run(ctx, p, runSetup{
			store:    o.store.SampleStore(p.InstanceID, i),
			provider: llm.WithSampling(o.deps.Provider, s),
			reset:    true,
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		out = append(out, candidateFrom(i, s, res, err))
	}

	if o.cfg.ShouldSaveCache() {
		if err := artifacts.WriteJSON(path, out); err != nil {
			logger.Warn("saving candidates", "error", err)
		}
	}
	return out, nil
}

func candidateFrom(i int, s llm.Sampling, res *RunResult, err error) Candidate {
	c := Candidate{Index: i, Sampling: s, Status: StatusError}
	if res != nil {
		c.Patch = res.State.Patch
		c.EvaluationStatus = string(res.State.EvaluationStatus)
		c.EvaluationRunID = res.State.EvaluationRunID
		c.FileScore = res.State.Scores.File
		c.LineScore = res.State.Scores.Line
		if res.Summary != nil {
			c.Status = res.Summary.Status
		}
	}
	if err != nil {
		c.Error = err.Error()
	}
	return c
}

// samplingFor returns greedy decoding for the first candidate and a
// randomised temperature in [0.8, 1.0) and top_p in [0.9, 1.0) for the rest.
func samplingFor(i int) llm.Sampling {
	if i == 0 {
		return llm.Sampling{Temperature: 0, TopP: 1}
	}
	return llm.Sampling{
		Temperature: 0.8 + 0.2*rand.Float64(),
		TopP:        0.9 + 0.1*rand.Float64(),
	}
}

// triage splits candidates into those that resolved the instance and
// reports how the evaluation went overall.
func triage(cands []Candidate) (passing []int, status string) {
	evaluated := false
	for i, c := range cands {
		if c.Status == StatusResolved {
			passing = append(passing, i)
		}
		if c.EvaluationRunID != "" && c.EvaluationRunID != evaluator.SkippedApplyRunID {
			evaluated = true
		}
	}
	switch {
	case len(passing) > 0:
		return passing, EvalSomePassing
	case evaluated:
		return nil, EvalNoPassing
	default:
		return nil, EvalNoValid
	}
}

// decide picks the final candidate. The model chooses among the resolving
// candidates, or among every candidate with a patch when none resolved.
func (o *Orchestrator) decide(ctx context.Context, p problem.Problem, cands []Candidate, logger *slog.Logger) (*Decision, llm.Usage, error) {
	path := o.store.DecisionPath(p.InstanceID)
	if o.cfg.LoadCache {
		var d Decision
		if err := artifacts.ReadJSON(path, &d); err == nil && d.InstanceID == p.InstanceID && d.Selected >= 0 && d.Selected < len(cands) {
			logger.Info("loaded cached decision", "path", path)
			return &d, llm.Usage{}, nil
		}
	}

	pool, status := triage(cands)
	if len(pool) == 0 {
		for i, c := range cands {
			if c.Patch != "" {
				pool = append(pool, i)
			}
		}
	}
	if len(pool) == 0 {
		return nil, llm.Usage{}, ErrNoCandidates
	}
	logger.Info("selecting patch", "eval_status", status, "pool", len(pool), "candidates", len(cands))

	patches := make([]string, len(pool))
	for i, idx := range pool {
		patches[i] = cands[idx].Patch
	}
	sel, err := agent.NewSelector(o.deps.Provider, o.cfg.TemplateDir, logger)
	if err != nil {
		return nil, llm.Usage{}, err
	}
	choice, err := sel.Select(ctx, p.ProblemStatement, patches)
	if err != nil {
		return nil, llm.Usage{}, err
	}

	d := &Decision{
		InstanceID:      p.InstanceID,
		SelectedIndex:   choice.Index,
		OriginalIndices: pool,
		Selected:        pool[choice.Index],
		Reason:          choice.Reason,
		Fallback:        choice.Fallback,
		EvalStatus:      status,
	}
	if err := artifacts.WriteJSON(path, d); err != nil {
		logger.Warn("saving decision", "error", err)
	}
	logger.Info("selected patch", "index", choice.Index, "candidate", d.Selected, "reason", d.Reason)
	return d, choice.Usage, nil
}
