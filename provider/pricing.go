package provider

import (
	"math"

	"github.com/pithecene-io/assay/types"
)

// Price is the input/output USD price per 1K tokens for one model.
type Price struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Prices maps model name to its price entry for one provider.
type Prices map[string]Price

// CostCents prices the usage in USD cents rounded to 4 decimals. An
// unknown model costs zero, so missing table entries never block a run.
func (p Prices) CostCents(model string, usage types.TokenUsage) float64 {
	price, ok := p[model]
	if !ok {
		return 0
	}
	dollars := float64(usage.PromptTokens)/1000*price.InputPer1K +
		float64(usage.CompletionTokens)/1000*price.OutputPer1K
	return math.Round(dollars*100*1e4) / 1e4
}
