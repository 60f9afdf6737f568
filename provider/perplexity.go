package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/types"
)

const (
	perplexityDefaultBaseURL = "https://api.perplexity.ai"
	perplexityDefaultModel   = "sonar"
)

// Perplexity is the chat-completions adapter. Its top-level citations
// array is the second citation channel.
type Perplexity struct {
	apiKey    string
	baseURL   string
	prices    Prices
	transport *transport
	logger    *log.Logger
}

// NewPerplexity builds the adapter from its options.
func NewPerplexity(opts Options) *Perplexity {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = perplexityDefaultBaseURL
	}
	return &Perplexity{
		apiKey:    opts.APIKey,
		baseURL:   baseURL,
		prices:    opts.Prices,
		transport: newTransport("perplexity", opts.HTTPClient, opts.Logger),
		logger:    opts.Logger,
	}
}

func (p *Perplexity) Name() string { return "perplexity" }

// PreparePrompt renders the shared prompt templates.
func (p *Perplexity) PreparePrompt(question string, persona *types.Persona, topic *types.Topic, promptVersion string) Request {
	return prepareRequest(question, persona, topic, promptVersion)
}

type perplexityRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	MaxTokens   int       `json:"max_tokens"`
}

type perplexityResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
	Usage     struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Invoke POSTs one chat completion. Perplexity has no seed parameter;
// determinism relies on the forced temperature/top_p alone.
func (p *Perplexity) Invoke(ctx context.Context, req Request, settings Settings) (*Result, error) {
	settings = settings.clampDeterministic()
	model := settings.Model
	if model == "" {
		model = perplexityDefaultModel
	}

	wire := perplexityRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: settings.Temperature,
		TopP:        settings.TopP,
		MaxTokens:   settings.MaxTokens,
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, &InvokeError{Provider: p.Name(), Err: fmt.Errorf("marshal request: %w", err)}
	}

	respBody, latency, err := p.transport.post(ctx, p.baseURL+"/chat/completions", map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	}, body)
	if err != nil {
		return nil, err
	}

	var parsed perplexityResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &InvokeError{Provider: p.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &InvokeError{Provider: p.Name(), Err: fmt.Errorf("response has no choices")}
	}

	usage := types.TokenUsage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}
	return buildResult(p.logger, p.Name(), model, body, parsed.Choices[0].Message.Content, parsed.Citations, usage, latency, p.prices)
}

// ComputeCost prices the usage for model.
func (p *Perplexity) ComputeCost(model string, usage types.TokenUsage) float64 {
	return p.prices.CostCents(model, usage)
}
