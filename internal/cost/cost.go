// Package cost converts token counts into USD using per-model pricing.
package cost

import "math"

// InputShare is the fraction of a combined token count attributed to input
// when only the total is known. The rest is billed as output.
const InputShare = 0.75

// Pricing is the USD rate per 1000 tokens for one model.
type Pricing struct {
	InputPer1K  float64 `yaml:"input_per_1k" json:"input_per_1k" validate:"gte=0"`
	OutputPer1K float64 `yaml:"output_per_1k" json:"output_per_1k" validate:"gte=0"`
}

// Table maps model name to pricing.
type Table map[string]Pricing

// Lookup returns the pricing for model and whether it is known.
func (t Table) Lookup(model string) (Pricing, bool) {
	if t == nil {
		return Pricing{}, false
	}
	p, ok := t[model]
	return p, ok
}

// Quote is a computed cost. Unpriced is set when the model has no pricing
// entry, in which case USD is zero.
type Quote struct {
	USD      float64 `json:"usd"`
	Unpriced bool    `json:"unpriced,omitempty"`
}

// Split divides a combined token count into input and output portions using
// InputShare. The two portions always sum to tokens.
func Split(tokens int) (in, out int) {
	if tokens <= 0 {
		return 0, 0
	}
	in = int(math.Round(float64(tokens) * InputShare))
	return in, tokens - in
}

// Estimate prices a combined token count for model.
func Estimate(tokens int, model string, table Table) Quote {
	p, ok := table.Lookup(model)
	if !ok {
		return Quote{Unpriced: true}
	}
	if tokens <= 0 {
		return Quote{}
	}
	in := float64(tokens) * InputShare
	out := float64(tokens) - in
	return Quote{USD: in/1000*p.InputPer1K + out/1000*p.OutputPer1K}
}

// Exact prices separately reported input and output counts for model.
func Exact(inputTokens, outputTokens int, model string, table Table) Quote {
	p, ok := table.Lookup(model)
	if !ok {
		return Quote{Unpriced: true}
	}
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	return Quote{USD: float64(inputTokens)/1000*p.InputPer1K + float64(outputTokens)/1000*p.OutputPer1K}
}
