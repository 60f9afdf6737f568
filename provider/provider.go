// Package provider implements the generative-answer provider adapters.
//
// Each adapter owns its provider's wire format end to end: PreparePrompt
// renders the versioned prompt templates into a chat transcript, Invoke
// POSTs one raw HTTP request per attempt (no SDK types, so the verbatim
// request body can be persisted), and ComputeCost prices the reported
// token usage. Replies are schema-validated with a raw-text fallback, so
// an invocation that reached the provider never fails on a malformed
// answer.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pithecene-io/assay/log"
	"github.com/pithecene-io/assay/types"
)

// Options configures one provider adapter.
type Options struct {
	APIKey  string
	// BaseURL overrides the provider's default endpoint (tests, proxies).
	BaseURL string
	// Prices is the adapter's slice of the configured price table.
	Prices Prices
	// HTTPClient overrides the default pooled client with its 60s
	// timeout. Mainly a test seam.
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Provider is one generative-answer backend.
type Provider interface {
	// Name returns the lowercase provider name.
	Name() string
	// PreparePrompt renders the prompt templates for one question.
	PreparePrompt(question string, persona *types.Persona, topic *types.Topic, promptVersion string) Request
	// Invoke sends the prepared request with the given settings and
	// returns the validated result. Failures come back as *InvokeError.
	Invoke(ctx context.Context, req Request, settings Settings) (*Result, error)
	// ComputeCost prices the token usage for model in USD cents.
	ComputeCost(model string, usage types.TokenUsage) float64
}

// Message is one chat turn. Adapters map the transcript onto their own
// wire format (OpenAI/Perplexity messages, Gemini contents).
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a prepared invocation, provider-agnostic until Invoke
// binds it to a wire body.
type Request struct {
	Messages      []Message
	PromptVersion string
}

// Settings are the resolved per-invocation knobs.
type Settings struct {
	Model         string
	Temperature   float64
	TopP          float64
	MaxTokens     int
	AllowSampling bool
}

// clampDeterministic forces temperature to 0 and top_p to 1 unless
// sampling is allowed. Adapters apply it on entry so the guarantee
// holds no matter how the settings were constructed.
func (s Settings) clampDeterministic() Settings {
	if !s.AllowSampling {
		s.Temperature = 0.0
		s.TopP = 1.0
	}
	return s
}

// Defaults are the sampling values applied when a run spec omits them.
type Defaults struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// ResolveSettings merges a run's settings map over the configured
// defaults. Determinism first: unless allow_sampling is set,
// temperature is forced to 0 and top_p to 1 regardless of the map.
func ResolveSettings(m types.SettingsMap, d Defaults) Settings {
	s := Settings{
		Model:       m.Model(),
		Temperature: d.Temperature,
		TopP:        d.TopP,
		MaxTokens:   d.MaxTokens,
	}
	if v, ok := floatSetting(m, "temperature"); ok {
		s.Temperature = v
	}
	if v, ok := floatSetting(m, "top_p"); ok {
		s.TopP = v
	}
	if v, ok := floatSetting(m, "max_tokens"); ok && v > 0 {
		s.MaxTokens = int(v)
	}
	if v, ok := m["allow_sampling"].(bool); ok {
		s.AllowSampling = v
	}
	return s.clampDeterministic()
}

func floatSetting(m types.SettingsMap, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Result is one completed invocation.
type Result struct {
	// Text is the validated answer, or the raw reply on fallback.
	Text string
	// Model is the effective model, after the adapter's default applied.
	Model string
	// Citations are merged, deduplicated http(s) URLs.
	Citations []string
	Usage     types.TokenUsage
	// LatencyMS measures the final HTTP attempt.
	LatencyMS int64
	CostCents float64
	// RequestBody is the verbatim wire payload sent to the provider.
	RequestBody types.JSONRaw
	// Reply is the validated (or fallback) response object.
	Reply types.JSONRaw
}

// InvokeError wraps an invocation failure with retry guidance for the
// execution worker.
type InvokeError struct {
	Provider  string
	Transient bool
	Err       error
}

func (e *InvokeError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s invoke failed: %v", e.Provider, kind, e.Err)
}

func (e *InvokeError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retriable invocation failure.
func IsTransient(err error) bool {
	var ie *InvokeError
	return errors.As(err, &ie) && ie.Transient
}

// buildResult runs the shared tail of every Invoke: validate the reply,
// merge citations, price the usage and assemble the Result. A reply that
// fails validation downgrades to the fallback object but still succeeds.
func buildResult(logger *log.Logger, providerName, model string, requestBody []byte, content string, channelCitations []string, usage types.TokenUsage, latency time.Duration, prices Prices) (*Result, error) {
	reply := ParseReply(content)
	if !reply.Valid {
		logger.Warn("provider_reply_fallback", map[string]any{
			"provider": providerName,
			"model":    model,
			"reason":   reply.Reason,
		})
	}

	replyBody, err := json.Marshal(reply.Object)
	if err != nil {
		return nil, &InvokeError{Provider: providerName, Err: fmt.Errorf("marshal reply: %w", err)}
	}
	cost := prices.CostCents(model, usage)

	logger.Info("provider_response", map[string]any{
		"provider":   providerName,
		"model":      model,
		"latency_ms": latency.Milliseconds(),
		"tokens":     usage.TotalTokens,
		"cost_cents": cost,
		"validated":  reply.Valid,
	})

	return &Result{
		Text:        reply.Answer,
		Model:       model,
		Citations:   MergeCitations(reply.Citations, channelCitations),
		Usage:       usage,
		LatencyMS:   latency.Milliseconds(),
		CostCents:   cost,
		RequestBody: types.JSONRaw(requestBody),
		Reply:       types.JSONRaw(replyBody),
	}, nil
}
