package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/types"
)

const (
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"
	geminiDefaultModel   = "gemini-2.0-flash"
)

// Gemini is the generateContent adapter. Grounding metadata contributes
// a second citation channel on top of the reply body.
type Gemini struct {
	apiKey    string
	baseURL   string
	prices    Prices
	transport *transport
	logger    *log.Logger
}

// NewGemini builds the adapter from its options.
func NewGemini(opts Options) *Gemini {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	return &Gemini{
		apiKey:    opts.APIKey,
		baseURL:   baseURL,
		prices:    opts.Prices,
		transport: newTransport("gemini", opts.HTTPClient, opts.Logger),
		logger:    opts.Logger,
	}
}

func (p *Gemini) Name() string { return "gemini" }

// PreparePrompt renders the shared prompt templates.
func (p *Gemini) PreparePrompt(question string, persona *types.Persona, topic *types.Topic, promptVersion string) Request {
	return prepareRequest(question, persona, topic, promptVersion)
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenConfig  `json:"generationConfig"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		GroundingMetadata struct {
			GroundingChunks []struct {
				Web struct {
					URI string `json:"uri"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Invoke POSTs one generateContent call. The chat transcript maps onto
// Gemini's shape: the system turn becomes systemInstruction, the rest
// become user contents.
func (p *Gemini) Invoke(ctx context.Context, req Request, settings Settings) (*Result, error) {
	settings = settings.clampDeterministic()
	model := settings.Model
	if model == "" {
		model = geminiDefaultModel
	}

	wire := geminiRequest{
		GenerationConfig: geminiGenConfig{
			Temperature:     settings.Temperature,
			TopP:            settings.TopP,
			MaxOutputTokens: settings.MaxTokens,
		},
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			wire.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
			continue
		}
		wire.Contents = append(wire.Contents, geminiContent{
			Role:  "user",
			Parts: []geminiPart{{Text: m.Content}},
		})
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, &InvokeError{Provider: p.Name(), Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.baseURL, model)
	respBody, latency, err := p.transport.post(ctx, url, map[string]string{
		"x-goog-api-key": p.apiKey,
	}, body)
	if err != nil {
		return nil, err
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &InvokeError{Provider: p.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Candidates) == 0 {
		return nil, &InvokeError{Provider: p.Name(), Err: fmt.Errorf("response has no candidates")}
	}

	candidate := parsed.Candidates[0]
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		sb.WriteString(part.Text)
	}

	var grounding []string
	for _, chunk := range candidate.GroundingMetadata.GroundingChunks {
		if chunk.Web.URI != "" {
			grounding = append(grounding, chunk.Web.URI)
		}
	}

	usage := types.TokenUsage{
		PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
		CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
	}
	return buildResult(p.logger, p.Name(), model, body, sb.String(), grounding, usage, latency, p.prices)
}

// ComputeCost prices the usage for model.
func (p *Gemini) ComputeCost(model string, usage types.TokenUsage) float64 {
	return p.prices.CostCents(model, usage)
}
