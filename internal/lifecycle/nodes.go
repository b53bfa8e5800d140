package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lucasnoah/patchfactory/internal/agent"
	"github.com/lucasnoah/patchfactory/internal/evaluator"
	"github.com/lucasnoah/patchfactory/internal/graph"
	"github.com/lucasnoah/patchfactory/internal/patch"
	"github.com/lucasnoah/patchfactory/internal/trajectory"
	"github.com/lucasnoah/patchfactory/internal/validator"
)

var (
	// ErrEmptyPatch is returned when the agent produced only whitespace.
	ErrEmptyPatch = errors.New("agent returned an empty patch")
	// ErrAgentNotInitialized is returned when no agent was configured.
	ErrAgentNotInitialized = errors.New("agent not initialized")
)

const (
	msgMaxValidation = "Maximum validation attempts reached"
	msgMaxEvaluation = "Maximum evaluation attempts reached."
)

func (m *Machine) generate(ctx context.Context, s PatchState) (PatchState, error) {
	s.Node = NodeGenerate
	s.Generation.Attempts++
	logger := m.logger.With("node", NodeGenerate, "attempt", s.Generation.Attempts)

	if m.deps.Agent == nil {
		s.Generation.Result = ResultError
		s.Generation.ErrMsg = ErrAgentNotInitialized.Error()
		return s, ErrAgentNotInitialized
	}

	text, cached, err := m.cachedPatch(s.Generation.Attempts)
	if err != nil {
		return s, err
	}
	if !cached {
		text, err = m.deps.Agent.Generate(ctx, agent.Task{
			InstanceID:       s.InstanceID,
			ProblemStatement: m.deps.Problem.ProblemStatement,
			RepoPath:         m.deps.RepoPath,
			Hints:            m.deps.Problem.HintsText,
			GenerationError:  s.Generation.ErrMsg,
			ValidationError:  s.Validation.ErrMsg,
			EvaluationError:  s.Evaluation.ErrMsg,
			Attempt:          s.Generation.Attempts,
		})
		if err != nil {
			s.Generation.Result = ResultError
			s.Generation.ErrMsg = err.Error()
			return s, fmt.Errorf("generate patch: %w", err)
		}
	}
	if strings.TrimSpace(text) == "" {
		s.Generation.Result = ResultError
		s.Generation.ErrMsg = ErrEmptyPatch.Error()
		return s, ErrEmptyPatch
	}

	s.Patch = text
	s.Generation.Result = ResultPassed
	s.Generation.ErrMsg = ""
	if stats, err := patch.Stats(text); err == nil {
		s.Stats = stats
	} else {
		logger.Debug("could not compute patch stats", "error", err)
	}

	if m.cfg.SaveCache && !cached {
		if err := m.deps.Store.SavePatch(s.InstanceID, text); err != nil {
			return s, err
		}
	}
	logger.Info("patch generated", "cached", cached, "files", s.Stats.Files,
		"added", s.Stats.LinesAdded, "removed", s.Stats.LinesRemoved)
	m.deps.Sink.Log(trajectory.TypeNode, "", text, map[string]any{
		"node": NodeGenerate, "attempt": s.Generation.Attempts, "cached": cached,
	})
	return s, nil
}

// cachedPatch returns the stored patch on the first attempt when
// LoadCache is set.
func (m *Machine) cachedPatch(attempt int) (string, bool, error) {
	if !m.cfg.LoadCache || attempt != 1 || m.deps.Store == nil {
		return "", false, nil
	}
	text, ok, err := m.deps.Store.LoadPatch(m.deps.Problem.InstanceID)
	if err != nil || !ok || strings.TrimSpace(text) == "" {
		return "", false, err
	}
	return text, true, nil
}

func (m *Machine) validate(ctx context.Context, s PatchState) (PatchState, error) {
	s.Node = NodeValidate
	s.Validation.Attempts++
	logger := m.logger.With("node", NodeValidate, "attempt", s.Validation.Attempts)

	if s.Validation.Attempts > m.cfg.MaxValidationAttempts {
		s.Validation.Result = ResultError
		s.Validation.ErrMsg = msgMaxValidation
		logger.Warn(msgMaxValidation)
		return s, nil
	}

	out := m.deps.Validator.Validate(ctx, s.Patch)
	if out.Status == validator.StatusPassed {
		if out.CleanedPatch != "" {
			s.Patch = out.CleanedPatch
		}
		s.Validation.Result = ResultPassed
		s.Validation.ErrMsg = ""
		logger.Info("patch passed validation")
	} else {
		s.Validation.Result = ResultError
		s.Validation.ErrMsg = out.Message
		logger.Warn("patch failed validation", "error", out.Message)
	}
	m.deps.Sink.Log(trajectory.TypeNode, "", out, map[string]any{
		"node": NodeValidate, "attempt": s.Validation.Attempts,
	})
	return s, nil
}

func (m *Machine) evaluate(ctx context.Context, s PatchState) (PatchState, error) {
	s.Node = NodeEvaluate
	s.Evaluation.Attempts++
	logger := m.logger.With("node", NodeEvaluate, "attempt", s.Evaluation.Attempts)

	if s.Evaluation.Attempts > m.cfg.MaxEvaluationAttempts {
		s.Evaluation.Result = ResultError
		s.Evaluation.ErrMsg = msgMaxEvaluation
		logger.Warn(msgMaxEvaluation)
		return s, nil
	}

	res, err := m.deps.Evaluator.Evaluate(ctx, s.Patch)
	if err != nil {
		s.Evaluation.Result = ResultError
		s.EvaluationStatus = evaluator.StatusError
		if isFatal(err) || ctx.Err() != nil {
			s.Evaluation.ErrMsg = err.Error()
			return s, err
		}
		s.Evaluation.ErrMsg = fmt.Sprintf("Evaluation crashed: %T: %v", err, err)
		logger.Error("evaluation crashed", "error", err)
		m.deps.Sink.Log(trajectory.TypeError, "", s.Evaluation.ErrMsg, map[string]any{"node": NodeEvaluate})
		return s, nil
	}

	s.EvaluationStatus = res.Status
	s.EvaluationRunID = res.RunID
	s.EvaluationLog = res.Log
	s.Report = res.Report
	s.Scores = res.Scores
	if res.Status == evaluator.StatusResolved {
		s.Evaluation.Result = ResultPassed
		s.Evaluation.ErrMsg = ""
	} else {
		s.Evaluation.Result = ResultError
		s.Evaluation.ErrMsg = fmt.Sprintf("Evaluation status: %s\n%s",
			res.Status, evaluator.FailureSummary(res.Log, 10))
	}
	logger.Info("patch evaluated", "status", res.Status, "run_id", res.RunID,
		"file_score", res.Scores.File, "line_score", res.Scores.Line)
	m.deps.Sink.Log(trajectory.TypeNode, "", map[string]any{
		"status": res.Status, "run_id": res.RunID, "scores": res.Scores,
	}, map[string]any{"node": NodeEvaluate, "attempt": s.Evaluation.Attempts})
	return s, nil
}

// isFatal reports configuration errors that must end the run.
func isFatal(err error) bool {
	var f interface{ Fatal() bool }
	return errors.As(err, &f) && f.Fatal()
}

func (m *Machine) afterValidate(s PatchState) string {
	switch {
	case s.Validation.Result == ResultPassed:
		return NodeEvaluate
	case s.Validation.Attempts < m.cfg.MaxValidationAttempts:
		return NodeGenerate
	default:
		return graph.End
	}
}

func (m *Machine) afterEvaluate(s PatchState) string {
	if m.cfg.RetryOnUnresolved && s.Evaluation.Result == ResultError &&
		s.Evaluation.Attempts < m.cfg.MaxEvaluationAttempts {
		return NodeGenerate
	}
	return graph.End
}
