package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/lucasnoah/patchfactory/internal/config"
)

// Default endpoints for self-hosted OpenAI-compatible vendors.
var vendorBaseURLs = map[string]string{
	"ollama": "http://localhost:11434/v1",
	"vllm":   "http://localhost:8000/v1",
}

// OpenAIOptions configures an OpenAIProvider.
type OpenAIOptions struct {
	Model             string
	APIKey            string
	BaseURL           string
	MaxTokens         int
	Temperature       float64
	TopP              *float64
	Stop              []string
	Seed              *int
	RequestsPerSecond float64
	Logger            *slog.Logger
}

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	client  *openai.Client
	opts    OpenAIOptions
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewOpenAI creates a provider from explicit options.
func NewOpenAI(opts OpenAIOptions) *OpenAIProvider {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	p := &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		opts:   opts,
		logger: opts.Logger,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if opts.RequestsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return p
}

// FromConfig builds a provider from the model section of the agent config.
// The API key is read from the configured environment variable; only the
// openai vendor requires one.
func FromConfig(m config.Model, logger *slog.Logger) (*OpenAIProvider, error) {
	key := ""
	if m.APIKeyEnv != "" {
		key = os.Getenv(m.APIKeyEnv)
	}
	if key == "" && m.Vendor == "openai" && m.BaseURL == "" {
		return nil, fmt.Errorf("model %s: environment variable %s is not set", m.Name, m.APIKeyEnv)
	}
	baseURL := m.BaseURL
	if baseURL == "" {
		baseURL = vendorBaseURLs[m.Vendor]
	}
	return NewOpenAI(OpenAIOptions{
		Model:             m.Name,
		APIKey:            key,
		BaseURL:           baseURL,
		MaxTokens:         m.GenerationTokens,
		Temperature:       m.Temperature,
		TopP:              m.TopP,
		Stop:              m.Stop,
		Seed:              m.Seed,
		RequestsPerSecond: m.RequestsPerSecond,
		Logger:            logger,
	}), nil
}

// PricingFromConfig returns the configured per-million-token prices.
func PricingFromConfig(m config.Model) Pricing {
	return Pricing{PromptPerMTok: m.PromptPrice, CompletionPerMTok: m.CompletionPrice}
}

// Complete sends one chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	creq := openai.ChatCompletionRequest{
		Model:       p.opts.Model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   p.opts.MaxTokens,
		Temperature: temperature(p.opts.Temperature),
		Stop:        p.opts.Stop,
		Seed:        p.opts.Seed,
	}
	if p.opts.TopP != nil {
		creq.TopP = float32(*p.opts.TopP)
	}
	if req.Sampling != nil {
		creq.Temperature = temperature(req.Sampling.Temperature)
		creq.TopP = float32(req.Sampling.TopP)
	}
	if len(req.Stop) > 0 {
		creq.Stop = req.Stop
	}
	for _, t := range req.Tools {
		creq.Tools = append(creq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	p.logger.Debug("chat completion", "model", p.opts.Model, "messages", len(creq.Messages), "tools", len(creq.Tools))
	resp, err := p.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("chat completion failed (status %d): %s: %w", apiErr.HTTPStatusCode, apiErr.Message, err)
		}
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	choice := resp.Choices[0]
	out := &Response{
		Message:      fromOpenAIMessage(choice.Message),
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	return out, nil
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func fromOpenAIMessage(m openai.ChatCompletionMessage) Message {
	out := Message{Role: m.Role, Content: m.Content}
	for _, tc := range m.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			// Keep malformed arguments as a JSON string so tools can report them.
			args, _ = json.Marshal(tc.Function.Arguments)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out
}

// temperature converts t for the wire. The client omits a zero temperature,
// which servers read as their default, so greedy decoding is sent as the
// smallest positive value instead.
func temperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}
