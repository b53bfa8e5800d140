package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lucasnoah/patchfactory/internal/llm"
	"github.com/lucasnoah/patchfactory/internal/prompt"
)

// fallbackReason is recorded when the model's choice cannot be used.
const fallbackReason = "Failed to parse response. Defaulting to first patch."

// Selection is the model's pick among candidate patches.
type Selection struct {
	Index    int       `json:"selected_patch_idx"`
	Reason   string    `json:"reason"`
	Fallback bool      `json:"fallback,omitempty"`
	Usage    llm.Usage `json:"usage"`
}

// Selector asks the model to choose the best of several candidate patches.
type Selector struct {
	Provider llm.Provider
	Template string
	Logger   *slog.Logger
}

// NewSelector creates a Selector using the select template, overridable
// from templateDir.
func NewSelector(p llm.Provider, templateDir string, logger *slog.Logger) (*Selector, error) {
	tmpl, err := prompt.LoadTemplate(prompt.SelectTemplate, templateDir)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{Provider: p, Template: tmpl, Logger: logger}, nil
}

// Select picks one of candidates for the issue described by statement. A
// reply that is not the requested JSON, or names an index outside
// candidates, selects candidate 0. Only provider failures are errors.
func (s *Selector) Select(ctx context.Context, statement string, candidates []string) (Selection, error) {
	if len(candidates) == 0 {
		return Selection{}, errors.New("select: no candidate patches")
	}
	if len(candidates) == 1 {
		return Selection{Index: 0, Reason: "only one candidate"}, nil
	}

	var sb strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&sb, "\nPatch %d:\n%s\n", i, strings.TrimRight(c, "\n"))
	}
	text, err := prompt.Render(s.Template, prompt.Vars{
		"problem_statement": statement,
		"candidates":        sb.String(),
	})
	if err != nil {
		return Selection{}, err
	}

	resp, err := s.Provider.Complete(ctx, llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: text}}})
	if err != nil {
		return Selection{}, fmt.Errorf("select patch: %w", err)
	}

	sel, ok := parseSelection(resp.Message.Content)
	if !ok || sel.Index < 0 || sel.Index >= len(candidates) {
		s.Logger.Error("invalid patch selection", "response", resp.Message.Content)
		sel = Selection{Index: 0, Reason: fallbackReason, Fallback: true}
	}
	sel.Usage = resp.Usage
	return sel, nil
}

// parseSelection decodes the reply, tolerating a surrounding code fence.
func parseSelection(content string) (Selection, bool) {
	body := strings.TrimSpace(content)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSpace(strings.TrimSuffix(body, "```"))

	var raw struct {
		Index  *int   `json:"selected_patch_idx"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil || raw.Index == nil {
		return Selection{}, false
	}
	return Selection{Index: *raw.Index, Reason: raw.Reason}, true
}
