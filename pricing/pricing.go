// Package pricing converts raw usage into monetary cost.
//
// Costs are a pure function of the stored usage counters, so every breakdown
// is reproducible for auditing after the fact.
package pricing

import (
	"github.com/agentarena/orchestrator/domain"
)

// Tier selects the browser rental formula of the provisioned provider.
type Tier string

const (
	// TierLocal is a self-managed browser pool: base fee plus hourly rate.
	TierLocal Tier = "local"
	// TierCloud is a managed provider billed purely by the hour.
	TierCloud Tier = "cloud"
)

// modelPrice is USD per 1,000,000 tokens.
type modelPrice struct {
	In     float64
	Out    float64
	Cached float64
}

// defaultPrice applies to model ids missing from the table. Unknown models
// never fail cost accounting.
var defaultPrice = modelPrice{In: 0.5, Out: 3.0, Cached: 0.1}

var modelPrices = map[string]modelPrice{
	"browser-use/bu-1-0":         {In: 0.50, Out: 3.00, Cached: 0.10},
	"google/gemini-2.5-flash":    {In: 0.30, Out: 2.50, Cached: 0.03},
	"google/gemini-2.5-pro":      {In: 1.25, Out: 10.0, Cached: 0.3125},
	"openai/gpt-4.1":             {In: 2.00, Out: 8.00, Cached: 0.50},
	"anthropic/claude-4.5-haiku": {In: 1.00, Out: 5.00, Cached: 0.10},
}

const (
	localBaseFee    = 0.01
	localHourlyRate = 0.05
	cloudHourlyRate = 0.20
)

// Cost computes the full breakdown for one agent execution. durationSeconds
// is the wall-clock time the browser session was rented; negative durations
// count as zero.
func Cost(modelID string, usage domain.Usage, durationSeconds float64, tier Tier) domain.CostBreakdown {
	llm := llmCost(modelID, usage)
	browser := browserCost(durationSeconds, tier)
	return domain.CostBreakdown{
		LLMCost:     llm,
		BrowserCost: browser,
		TotalCost:   llm + browser,
	}
}

func llmCost(modelID string, usage domain.Usage) float64 {
	price, ok := modelPrices[modelID]
	if !ok {
		price = defaultPrice
	}
	const million = 1_000_000
	return float64(usage.InputTokens)*price.In/million +
		float64(usage.OutputTokens)*price.Out/million +
		float64(usage.CachedTokens)*price.Cached/million
}

func browserCost(durationSeconds float64, tier Tier) float64 {
	hours := durationSeconds / 3600
	if hours < 0 {
		hours = 0
	}
	switch tier {
	case TierLocal:
		return localBaseFee + localHourlyRate*hours
	default:
		return cloudHourlyRate * hours
	}
}
