// Package llm defines the chat-completion provider the agent talks to.
package llm

import (
	"context"
	"encoding/json"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one chat message. Assistant messages may carry tool calls;
// tool messages answer one call by ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSpec describes a callable tool with a JSON-schema parameter object.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is a single completion request.
type Request struct {
	Messages []Message
	Tools    []ToolSpec
	// Stop overrides the provider's configured stop sequences when set.
	Stop []string
	// Sampling overrides the provider's temperature and top_p when set.
	Sampling *Sampling
}

// Sampling holds the decoding parameters of one request.
type Sampling struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

// WithSampling returns a provider that sends s with every request that does
// not carry its own sampling parameters.
func WithSampling(p Provider, s Sampling) Provider {
	return ProviderFunc(func(ctx context.Context, req Request) (*Response, error) {
		if req.Sampling == nil {
			req.Sampling = &s
		}
		return p.Complete(ctx, req)
	})
}

// Response is the model's reply.
type Response struct {
	Message      Message
	FinishReason string
	Usage        Usage
}

// Usage counts tokens spent.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add accumulates another usage record.
func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Pricing is the per-million-token price of a model.
type Pricing struct {
	PromptPerMTok     float64
	CompletionPerMTok float64
}

// Cost returns the USD cost of u.
func (p Pricing) Cost(u Usage) float64 {
	return float64(u.PromptTokens)*p.PromptPerMTok/1e6 +
		float64(u.CompletionTokens)*p.CompletionPerMTok/1e6
}

// Provider completes chat requests. Implementations do not retry.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (*Response, error)

func (f ProviderFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
