package core

import "github.com/google/uuid"

// TokenUsage tracks LLM/plugin-equivalent token consumption. Plugins record a
// configurable equivalent cost (default 400, see Configuration.CalculatorTokensPerPlugin)
// so external metering sees a uniform unit across LLM and non-LLM work.
type TokenUsage struct {
	Total      int `json:"total"`
	Prompt     int `json:"prompt,omitempty"`
	Completion int `json:"completion,omitempty"`
}

// Add returns the element-wise sum of two usages.
func (t TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		Total:      t.Total + o.Total,
		Prompt:     t.Prompt + o.Prompt,
		Completion: t.Completion + o.Completion,
	}
}

// NewID generates a random, collision-resistant identifier for executions,
// steps, plans and approval requests.
func NewID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "-" + uuid.NewString()
}
