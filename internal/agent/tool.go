// Package agent runs a tool-calling LLM loop that produces a patch for a
// problem, together with the tools it may call.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/lucasnoah/patchfactory/internal/llm"
)

// Tool is a capability the model can invoke. Invoke returns the text handed
// back to the model; an error is reported to the model as the tool result,
// not treated as a failure of the run.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// Tool names.
const (
	ToolBash      = "bash"
	ToolEditor    = "str_replace_editor"
	ToolThinker   = "sequential_thinker"
	ToolValidator = "patch_validator"
	ToolFinal     = "final_answer"
)

// ParamType is a JSON-schema primitive type.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInt     ParamType = "integer"
	ParamArray   ParamType = "array"
	ParamBoolean ParamType = "boolean"
)

// Param describes one tool argument.
type Param struct {
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
	Items       *Param
}

func (p Param) schema() map[string]any {
	s := map[string]any{"type": string(p.Type), "description": p.Description}
	if len(p.Enum) > 0 {
		s["enum"] = p.Enum
	}
	if p.Items != nil {
		s["items"] = p.Items.schema()
	}
	return s
}

// Schema builds a JSON-schema object from named parameters.
func Schema(params map[string]Param) map[string]any {
	props := make(map[string]any, len(params))
	var required []string
	for name, p := range params {
		props[name] = p.schema()
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// decodeArgs unmarshals tool arguments. Some models send the argument
// object as a JSON string; that form is accepted too.
func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = json.RawMessage(s)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// Toolset is an ordered collection of tools addressed by name.
type Toolset struct {
	tools []Tool
	index map[string]Tool
}

// NewToolset returns a toolset of tools, dropping any whose name is in
// disabled.
func NewToolset(tools []Tool, disabled ...string) *Toolset {
	ts := &Toolset{index: make(map[string]Tool)}
	for _, t := range tools {
		if t == nil || slices.Contains(disabled, t.Name()) {
			continue
		}
		if _, dup := ts.index[t.Name()]; dup {
			continue
		}
		ts.tools = append(ts.tools, t)
		ts.index[t.Name()] = t
	}
	return ts
}

// Lookup finds a tool by name.
func (ts *Toolset) Lookup(name string) (Tool, bool) {
	t, ok := ts.index[name]
	return t, ok
}

// Names lists tool names in registration order.
func (ts *Toolset) Names() []string {
	out := make([]string, len(ts.tools))
	for i, t := range ts.tools {
		out[i] = t.Name()
	}
	return out
}

// Specs converts the tools to provider tool specs.
func (ts *Toolset) Specs() []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(ts.tools))
	for _, t := range ts.tools {
		out = append(out, llm.ToolSpec{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
	}
	return out
}
