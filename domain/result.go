package domain

import "encoding/json"

// Usage holds raw token counters reported by an automation backend.
// Costs are always recomputable from these numbers.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	CachedTokens int64 `json:"cached_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Action is one entry of the ordered action log a backend produces.
type Action struct {
	Name             string `json:"name"`
	Success          *bool  `json:"success,omitempty"`
	Error            string `json:"error,omitempty"`
	ExtractedContent string `json:"extracted_content,omitempty"`
}

// CostBreakdown is the monetary accounting for one agent execution, in USD.
type CostBreakdown struct {
	LLMCost     float64 `json:"llm_cost"`
	BrowserCost float64 `json:"browser_cost"`
	TotalCost   float64 `json:"total_cost"`
}

// AgentResult is the shared result envelope written once an agent reaches a
// terminal state. Backend is the discriminator; Data carries the
// backend-specific payload verbatim.
type AgentResult struct {
	Backend         string          `json:"backend"`
	Success         bool            `json:"success"`
	Message         string          `json:"message"`
	Actions         []Action        `json:"actions,omitempty"`
	Usage           Usage           `json:"usage"`
	DurationSeconds float64         `json:"duration_seconds"`
	Cost            *CostBreakdown  `json:"cost,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}
