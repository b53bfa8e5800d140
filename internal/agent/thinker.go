package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lucasnoah/patchfactory/internal/llm"
	"github.com/lucasnoah/patchfactory/internal/prompt"
	"github.com/lucasnoah/patchfactory/internal/trajectory"
)

// FinalAnswerMarker ends a sequential thinking run.
const FinalAnswerMarker = "FINAL ANSWER:"

// DefaultThinkingSteps bounds a sequential thinking run.
const DefaultThinkingSteps = 5

// ThinkerTool asks the model for one reasoning step at a time until it
// produces a final answer or runs out of steps.
type ThinkerTool struct {
	Provider llm.Provider
	MaxSteps int
	Template string
	Sink     trajectory.Sink
	// OnUsage receives the tokens spent by every step.
	OnUsage func(llm.Usage)
}

// NewThinkerTool creates a sequential thinker using the built-in template.
func NewThinkerTool(p llm.Provider, maxSteps int, sink trajectory.Sink) (*ThinkerTool, error) {
	tmpl, err := prompt.LoadTemplate(prompt.ThinkingTemplate, "")
	if err != nil {
		return nil, err
	}
	if maxSteps <= 0 {
		maxSteps = DefaultThinkingSteps
	}
	if sink == nil {
		sink = trajectory.Discard{}
	}
	return &ThinkerTool{Provider: p, MaxSteps: maxSteps, Template: tmpl, Sink: sink}, nil
}

func (t *ThinkerTool) Name() string { return ToolThinker }

func (t *ThinkerTool) Description() string {
	return "Reason through a question step by step before acting. Returns the numbered thoughts, ending with a FINAL ANSWER when one was reached."
}

func (t *ThinkerTool) Parameters() map[string]any {
	return Schema(map[string]Param{
		"goal":              {Type: ParamString, Description: "Question or task to reason about.", Required: true},
		"problem_statement": {Type: ParamString, Description: "Relevant problem context."},
	})
}

func (t *ThinkerTool) Invoke(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Goal             string `json:"goal"`
		ProblemStatement string `json:"problem_statement"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Goal) == "" {
		return "", errors.New("goal is required")
	}
	problem := args.Goal
	if args.ProblemStatement != "" {
		problem = args.ProblemStatement + "\n\nGoal: " + args.Goal
	}

	var thoughts []string
	done := false
	for step := 1; step <= t.MaxSteps && !done; step++ {
		text, err := prompt.Render(t.Template, prompt.Vars{
			"problem":   problem,
			"previous":  strings.Join(thoughts, "\n"),
			"step":      strconv.Itoa(step),
			"max_steps": strconv.Itoa(t.MaxSteps),
		})
		if err != nil {
			return "", err
		}
		resp, err := t.Provider.Complete(ctx, llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: text}}})
		if err != nil {
			return "", fmt.Errorf("thinking step %d: %w", step, err)
		}
		if t.OnUsage != nil {
			t.OnUsage(resp.Usage)
		}
		thought := fmt.Sprintf("Step %d: %s", step, strings.TrimSpace(resp.Message.Content))
		thoughts = append(thoughts, thought)
		t.Sink.Log(trajectory.TypeThought, t.Name(), thought, map[string]any{"step_number": step})
		done = strings.Contains(resp.Message.Content, FinalAnswerMarker)
	}
	if !done {
		thoughts = append(thoughts, "[WARNING] Reached max steps without FINAL ANSWER.")
	}
	return strings.Join(thoughts, "\n"), nil
}
