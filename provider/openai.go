package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/types"
)

const (
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	openAIDefaultModel   = "gpt-4o-mini"
	// openAISeed pins sampling for reproducible answers.
	openAISeed = 42
)

// OpenAI is the chat-completions adapter.
type OpenAI struct {
	apiKey    string
	baseURL   string
	prices    Prices
	transport *transport
	logger    *log.Logger
}

// NewOpenAI builds the adapter from its options.
func NewOpenAI(opts Options) *OpenAI {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	return &OpenAI{
		apiKey:    opts.APIKey,
		baseURL:   baseURL,
		prices:    opts.Prices,
		transport: newTransport("openai", opts.HTTPClient, opts.Logger),
		logger:    opts.Logger,
	}
}

func (p *OpenAI) Name() string { return "openai" }

// PreparePrompt renders the shared prompt templates.
func (p *OpenAI) PreparePrompt(question string, persona *types.Persona, topic *types.Topic, promptVersion string) Request {
	return prepareRequest(question, persona, topic, promptVersion)
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	TopP           float64         `json:"top_p"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Seed           *int            `json:"seed,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Invoke POSTs one chat completion. Determinism adds the fixed seed on
// top of the already-forced temperature/top_p.
func (p *OpenAI) Invoke(ctx context.Context, req Request, settings Settings) (*Result, error) {
	settings = settings.clampDeterministic()
	model := settings.Model
	if model == "" {
		model = openAIDefaultModel
	}

	wire := openAIRequest{
		Model:          model,
		Messages:       req.Messages,
		Temperature:    settings.Temperature,
		TopP:           settings.TopP,
		MaxTokens:      settings.MaxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	if !settings.AllowSampling {
		seed := openAISeed
		wire.Seed = &seed
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

	var parsed openAIResponse
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
	return buildResult(p.logger, p.Name(), model, body, parsed.Choices[0].Message.Content, nil, usage, latency, p.prices)
}

// ComputeCost prices the usage for model.
func (p *OpenAI) ComputeCost(model string, usage types.TokenUsage) float64 {
	return p.prices.CostCents(model, usage)
}
