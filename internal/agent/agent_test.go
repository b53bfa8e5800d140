package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/patchfactory/internal/llm"
	"github.com/lucasnoah/patchfactory/internal/trajectory"
)

const samplePatch = "diff --git a/a.py b/a.py\n--- a/a.py\n+++ b/a.py\n@@ -1,3 +1,3 @@\n a\n-b\n+B\n c\n"

// scripted replays canned responses and records every request.
type scripted struct {
	mu        sync.Mutex
	responses []*llm.Response
	errs      []error
	requests  []llm.Request
}

func (s *scripted) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.requests)
	s.requests = append(s.requests, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		return &llm.Response{Message: llm.Message{Role: llm.RoleAssistant, Content: "thinking..."}}, nil
	}
	return s.responses[i], nil
}

func reply(content string, calls ...llm.ToolCall) *llm.Response {
	return &llm.Response{
		Message: llm.Message{Role: llm.RoleAssistant, Content: content, ToolCalls: calls},
		Usage:   llm.Usage{PromptTokens: 100, CompletionTokens: 10},
	}
}

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

// echoTool returns its raw arguments.
type echoTool struct{ name string }

func (e echoTool) Name() string               { return e.name }
func (e echoTool) Description() string        { return "echo" }
func (e echoTool) Parameters() map[string]any { return Schema(nil) }
func (e echoTool) Invoke(_ context.Context, raw json.RawMessage) (string, error) {
	if string(raw) == `{"fail":true}` {
		return "", errors.New("boom")
	}
	return "echo " + string(raw), nil
}

func newAgent(t *testing.T, p llm.Provider, sink trajectory.Sink, tools ...Tool) *ToolCallingAgent {
	t.Helper()
	a, err := New(Options{
		Provider: p,
		Tools:    NewToolset(tools),
		MaxSteps: 4,
		Pricing:  llm.Pricing{PromptPerMTok: 1e6, CompletionPerMTok: 1e6},
		Sink:     sink,
	})
	require.NoError(t, err)
	return a
}

func TestGenerateToolThenAnswer(t *testing.T) {
	p := &scripted{responses: []*llm.Response{
		reply("", call("c1", "echo", `{"x":1}`)),
		reply("Here is the fix:\n```diff\n" + samplePatch + "```\nDone."),
	}}
	sink := trajectory.Memory()
	a := newAgent(t, p, sink, echoTool{"echo"})

	got, err := a.Generate(context.Background(), Task{ProblemStatement: "b should be B", RepoPath: "/repo", Attempt: 1})
	require.NoError(t, err)
	assert.Equal(t, samplePatch, got)

	require.Len(t, p.requests, 2)
	first := p.requests[0]
	assert.Equal(t, llm.RoleSystem, first.Messages[0].Role)
	assert.Contains(t, first.Messages[1].Content, "b should be B")
	var names []string
	for _, s := range first.Tools {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"echo", ToolFinal}, names)

	second := p.requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
	assert.Equal(t, `echo {"x":1}`, last.Content)

	assert.Equal(t, llm.Usage{PromptTokens: 200, CompletionTokens: 20}, a.Usage())
	assert.InDelta(t, 220.0, a.Cost(), 1e-9)

	var types []string
	for _, e := range sink.Entries() {
		types = append(types, e["type"].(string))
	}
	assert.Equal(t, []string{"prompt", "response", "tool_call", "tool_result", "response"}, types)
}

func TestGenerateFinalAnswerTool(t *testing.T) {
	args, _ := json.Marshal(map[string]string{"answer": samplePatch})
	p := &scripted{responses: []*llm.Response{reply("", call("c1", ToolFinal, string(args)))}}
	a := newAgent(t, p, nil)

	got, err := a.Generate(context.Background(), Task{Attempt: 1})
	require.NoError(t, err)
	assert.Equal(t, samplePatch, got)
}

func TestGenerateEmptyFinalAnswer(t *testing.T) {
	p := &scripted{responses: []*llm.Response{reply("", call("c1", ToolFinal, `{"answer":"  "}`))}}
	a := newAgent(t, p, nil)

	got, err := a.Generate(context.Background(), Task{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGenerateMaxSteps(t *testing.T) {
	p := &scripted{}
	a := newAgent(t, p, nil)

	_, err := a.Generate(context.Background(), Task{})
	assert.ErrorIs(t, err, ErrMaxSteps)
	assert.Len(t, p.requests, 4)
	// Prose without a diff is nudged, not accepted.
	msgs := p.requests[1].Messages
	assert.Equal(t, nudge, msgs[len(msgs)-1].Content)
}

func TestGenerateToolErrorsGoBackToModel(t *testing.T) {
	p := &scripted{responses: []*llm.Response{
		reply("", call("c1", "missing", `{}`), call("c2", "echo", `{"fail":true}`)),
		reply(samplePatch),
	}}
	a := newAgent(t, p, nil, echoTool{"echo"})

	_, err := a.Generate(context.Background(), Task{})
	require.NoError(t, err)

	msgs := p.requests[1].Messages
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Contains(t, msgs[len(msgs)-2].Content, `unknown tool "missing"`)
	assert.Equal(t, "Error: boom", msgs[len(msgs)-1].Content)
}

func TestGenerateProviderError(t *testing.T) {
	p := &scripted{errs: []error{errors.New("connection refused")}}
	a := newAgent(t, p, nil)

	_, err := a.Generate(context.Background(), Task{})
	assert.ErrorContains(t, err, "connection refused")
}

func TestGenerateIncludesPreviousErrors(t *testing.T) {
	p := &scripted{responses: []*llm.Response{reply(samplePatch)}}
	a := newAgent(t, p, nil)

	_, err := a.Generate(context.Background(), Task{ProblemStatement: "p", ValidationError: "lint failed for a.py", Attempt: 2})
	require.NoError(t, err)
	user := p.requests[0].Messages[1].Content
	assert.Contains(t, user, "lint failed for a.py")
	assert.Contains(t, user, "attempt 2")
}

func TestNewRequiresProvider(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestExtractPatch(t *testing.T) {
	tests := map[string]struct {
		in, want string
	}{
		"bare":          {samplePatch, samplePatch},
		"fenced":        {"```diff\n" + samplePatch + "```", samplePatch},
		"prose before":  {"I changed b.\n\n" + samplePatch, samplePatch},
		"plain fence":   {"```\n" + samplePatch + "```\n", samplePatch},
		"extra newline": {samplePatch + "\n\n", samplePatch},
		"empty":         {"   \n", ""},
		"no diff":       {"done", "done\n"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractPatch(tt.in))
		})
	}
}

func TestToolsetDisabledAndDuplicates(t *testing.T) {
	ts := NewToolset([]Tool{echoTool{"a"}, echoTool{"b"}, echoTool{"a"}, nil}, "b")
	assert.Equal(t, []string{"a"}, ts.Names())
	_, ok := ts.Lookup("b")
	assert.False(t, ok)
	assert.Len(t, ts.Specs(), 1)
}

func TestSchemaRequired(t *testing.T) {
	s := Schema(map[string]Param{
		"z": {Type: ParamString, Required: true},
		"a": {Type: ParamInt, Required: true},
		"m": {Type: ParamArray, Items: &Param{Type: ParamInt}},
	})
	assert.Equal(t, []string{"a", "z"}, s["required"])
	props := s["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "integer", "description": ""}, props["m"].(map[string]any)["items"])
}

func TestDecodeArgsAcceptsStringEncodedObject(t *testing.T) {
	var v struct {
		Command string `json:"command"`
	}
	require.NoError(t, decodeArgs(json.RawMessage(`"{\"command\":\"ls\"}"`), &v))
	assert.Equal(t, "ls", v.Command)
	require.NoError(t, decodeArgs(nil, &v))
	assert.Error(t, decodeArgs(json.RawMessage(`[1]`), &v))
	assert.True(t, strings.HasPrefix(ToolEditor, "str_"))
}
