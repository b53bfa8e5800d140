package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lucasnoah/patchfactory/internal/llm"
	"github.com/lucasnoah/patchfactory/internal/patch"
	"github.com/lucasnoah/patchfactory/internal/prompt"
	"github.com/lucasnoah/patchfactory/internal/trajectory"
)

// ErrMaxSteps is returned when the model keeps calling tools past the step
// budget without producing a patch.
var ErrMaxSteps = errors.New("agent reached max steps without a final answer")

// DefaultMaxSteps bounds the chat loop.
const DefaultMaxSteps = 30

const nudge = "Reply with the final unified diff, call final_answer with it, or call a tool to keep working."

// Task is one patch-generation request.
type Task struct {
	InstanceID       string
	ProblemStatement string
	RepoPath         string
	Hints            string
	GenerationError  string
	ValidationError  string
	EvaluationError  string
	Attempt          int
}

func (t Task) promptInput() prompt.PatchInput {
	return prompt.PatchInput{
		ProblemStatement: t.ProblemStatement,
		RepoPath:         t.RepoPath,
		Hints:            t.Hints,
		GenerationError:  t.GenerationError,
		ValidationError:  t.ValidationError,
		EvaluationError:  t.EvaluationError,
		Attempt:          t.Attempt,
	}
}

// Options configures a ToolCallingAgent.
type Options struct {
	Provider    llm.Provider
	Tools       *Toolset
	MaxSteps    int
	Template    string
	TemplateDir string
	Pricing     llm.Pricing
	Sink        trajectory.Sink
	Logger      *slog.Logger
}

// ToolCallingAgent drives the model through tool calls until it answers
// with a patch.
type ToolCallingAgent struct {
	opts Options

	mu    sync.Mutex
	usage llm.Usage
}

// New creates an agent. A provider is required.
func New(opts Options) (*ToolCallingAgent, error) {
	if opts.Provider == nil {
		return nil, errors.New("agent: no LLM provider configured")
	}
	if opts.Tools == nil {
		opts.Tools = NewToolset(nil)
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Template == "" {
		opts.Template = prompt.PatchTemplate
	}
	if opts.Sink == nil {
		opts.Sink = trajectory.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ToolCallingAgent{opts: opts}, nil
}

// Generate runs the chat loop for task and returns the extracted patch,
// which may be empty if the model answered with nothing.
func (a *ToolCallingAgent) Generate(ctx context.Context, task Task) (string, error) {
	system, err := prompt.LoadTemplate(prompt.SystemTemplate, a.opts.TemplateDir)
	if err != nil {
		return "", err
	}
	user, err := prompt.RenderPatch(a.opts.Template, a.opts.TemplateDir, task.promptInput())
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	a.opts.Sink.Log(trajectory.TypePrompt, "", user, map[string]any{"attempt": task.Attempt})

	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
	specs := append(a.opts.Tools.Specs(), finalAnswerSpec())
	logger := a.opts.Logger.With("attempt", task.Attempt)

	for step := 1; step <= a.opts.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		resp, err := a.opts.Provider.Complete(ctx, llm.Request{Messages: msgs, Tools: specs})
		if err != nil {
			return "", fmt.Errorf("agent step %d: %w", step, err)
		}
		a.AddUsage(resp.Usage)

		msg := resp.Message
		msg.Role = llm.RoleAssistant
		msgs = append(msgs, msg)
		a.opts.Sink.Log(trajectory.TypeResponse, "", msg.Content, map[string]any{
			"agent_step": step, "tool_calls": len(msg.ToolCalls), "finish_reason": resp.FinishReason,
		})

		if len(msg.ToolCalls) == 0 {
			if p := ExtractPatch(msg.Content); looksLikeDiff(p) {
				logger.Info("agent answered", "steps", step)
				return p, nil
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: nudge})
			continue
		}

		for _, tc := range msg.ToolCalls {
			if tc.Name == ToolFinal {
				var args struct {
					Answer string `json:"answer"`
				}
				if err := decodeArgs(tc.Arguments, &args); err != nil {
					msgs = append(msgs, toolMessage(tc, "Error: "+err.Error()))
					continue
				}
				logger.Info("agent called final_answer", "steps", step)
				return ExtractPatch(args.Answer), nil
			}
			msgs = append(msgs, toolMessage(tc, a.invoke(ctx, tc)))
		}
	}
	logger.Warn("agent exhausted its step budget", "max_steps", a.opts.MaxSteps)
	return "", ErrMaxSteps
}

func (a *ToolCallingAgent) invoke(ctx context.Context, tc llm.ToolCall) string {
	var logged any = string(tc.Arguments)
	var decoded map[string]any
	if json.Unmarshal(tc.Arguments, &decoded) == nil {
		logged = decoded
	}
	a.opts.Sink.Log(trajectory.TypeToolCall, tc.Name, logged, map[string]any{"call_id": tc.ID})

	start := time.Now()
	var out string
	tool, ok := a.opts.Tools.Lookup(tc.Name)
	if !ok {
		out = fmt.Sprintf("Error: unknown tool %q; available tools: %s", tc.Name, strings.Join(a.opts.Tools.Names(), ", "))
	} else {
		res, err := tool.Invoke(ctx, tc.Arguments)
		if err != nil {
			out = "Error: " + err.Error()
		} else {
			out = res
		}
	}
	elapsed := time.Since(start)

	a.opts.Sink.Log(trajectory.TypeToolResult, tc.Name, out, map[string]any{
		"call_id": tc.ID, "duration_seconds": elapsed.Seconds(),
	})
	a.opts.Logger.Debug("tool call", "tool", tc.Name, "duration", elapsed)
	return out
}

func toolMessage(tc llm.ToolCall, content string) llm.Message {
	return llm.Message{Role: llm.RoleTool, ToolCallID: tc.ID, Name: tc.Name, Content: content}
}

func finalAnswerSpec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ToolFinal,
		Description: "Submit the final unified diff. Ends the run.",
		Parameters: Schema(map[string]Param{
			"answer": {Type: ParamString, Description: "The complete unified diff.", Required: true},
		}),
	}
}

// AddUsage records tokens spent on behalf of the agent.
func (a *ToolCallingAgent) AddUsage(u llm.Usage) {
	a.mu.Lock()
	a.usage.Add(u)
	a.mu.Unlock()
}

// Usage returns the tokens spent so far.
func (a *ToolCallingAgent) Usage() llm.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

// Cost returns the USD cost of the tokens spent so far.
func (a *ToolCallingAgent) Cost() float64 {
	return a.opts.Pricing.Cost(a.Usage())
}

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\n(.*?)```")

// ExtractPatch pulls the diff out of a model answer. Code fences are
// stripped and any prose before the first file header is dropped.
func ExtractPatch(answer string) string {
	text := answer
	for _, m := range fenceRe.FindAllStringSubmatch(answer, -1) {
		if looksLikeDiff(m[1]) {
			text = m[1]
			break
		}
	}
	if i := strings.Index(text, "diff --git "); i >= 0 {
		text = text[i:]
	} else if i := strings.Index(text, "--- "); i >= 0 && strings.Contains(text[i:], "\n+++ ") {
		text = text[i:]
	}
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return patch.Normalize(strings.TrimLeft(text, "\r\n"))
}

func looksLikeDiff(s string) bool {
	return strings.Contains(s, "diff --git ") || (strings.Contains(s, "--- ") && strings.Contains(s, "+++ ") && strings.Contains(s, "@@"))
}
