package llm

import "sync"

// Usage counts tokens and cost for one or more calls.
type Usage struct {
	Requests         int     `json:"requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// Add accumulates o into u.
func (u *Usage) Add(o Usage) {
	u.Requests += o.Requests
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
	u.Cost += o.Cost
}

// ModelPrice is the per-1k-token price of a model.
type ModelPrice struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Pricing maps model names to prices. Unknown models cost nothing.
type Pricing map[string]ModelPrice

// Cost computes the price of prompt and completion tokens on model.
func (p Pricing) Cost(model string, promptTokens, completionTokens int64) float64 {
	price, ok := p[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1000*price.InputPer1K + float64(completionTokens)/1000*price.OutputPer1K
}

// Tracker accumulates usage from concurrent calls.
type Tracker struct {
	mu    sync.Mutex
	total Usage
}

// Add records u.
func (t *Tracker) Add(u Usage) {
	t.mu.Lock()
	t.total.Add(u)
	t.mu.Unlock()
}

// Total returns the accumulated usage.
func (t *Tracker) Total() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}
