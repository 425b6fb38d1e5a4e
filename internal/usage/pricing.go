package usage

import (
	"strings"

	"github.com/dossierhq/dossier/pkg/models"
)

// Rate is USD per million tokens.
type Rate struct {
	Input  float64
	Output float64
}

// defaultRate applies when a provider/model pair has no pricing entry.
// Unknown pricing must never block usage logging, so the fallback is a
// deliberately conservative middle-of-the-pack rate rather than an error.
var defaultRate = Rate{Input: 3.0, Output: 15.0}

// pricing is the static rate table, keyed provider → model prefix.
// Prefix matching tolerates dated model suffixes (e.g. "-2025-01-01").
var pricing = map[models.Provider]map[string]Rate{
	models.ProviderAnthropic: {
		"claude-3-5-haiku":  {Input: 0.8, Output: 4.0},
		"claude-3-5-sonnet": {Input: 3.0, Output: 15.0},
		"claude-3-7-sonnet": {Input: 3.0, Output: 15.0},
		"claude-3-opus":     {Input: 15.0, Output: 75.0},
	},
	models.ProviderOpenAI: {
		"gpt-4o-mini": {Input: 0.15, Output: 0.6},
		"gpt-4o":      {Input: 2.5, Output: 10.0},
		"gpt-4.1":     {Input: 2.0, Output: 8.0},
		"o3-mini":     {Input: 1.1, Output: 4.4},
	},
	// Local inference costs nothing.
	models.ProviderOllama: {
		"": {Input: 0, Output: 0},
	},
}

// rateFor looks up the rate for a provider/model pair, longest matching
// model prefix first, falling back to defaultRate.
func rateFor(provider models.Provider, model string) Rate {
	table, ok := pricing[provider]
	if !ok {
		return defaultRate
	}

	best := ""
	found := false
	var rate Rate
	for prefix, r := range table {
		if strings.HasPrefix(model, prefix) && (!found || len(prefix) > len(best)) {
			best = prefix
			rate = r
			found = true
		}
	}
	if !found {
		return defaultRate
	}
	return rate
}

// Cost computes the dollar cost of a token count against the rate table:
// (input/1M × inputRate) + (output/1M × outputRate).
func Cost(provider models.Provider, model string, tokens models.TokenUsage) float64 {
	r := rateFor(provider, model)
	return float64(tokens.InputTokens)/1_000_000*r.Input +
		float64(tokens.OutputTokens)/1_000_000*r.Output
}
