package llm

import "strings"

// Usage is an estimate of one generation's token use and cost. Providers
// report usage inconsistently (and not at all through some compatible
// servers), so it is derived from the text.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// modelPricing holds per-million-token costs in USD.
type modelPricing struct {
	PromptPer1M     float64
	CompletionPer1M float64
}

// Known model pricing as of Feb 2026. Add new models as needed.
var knownModels = map[string]modelPricing{
	// Gemini
	"gemini-1.5-pro":        {1.25, 5.00},
	"gemini-2.5-flash":      {0.075, 0.30},
	"gemini-2.5-flash-lite": {0.0, 0.0},
	// Anthropic
	"claude-3-7-sonnet": {3.00, 15.00},
	"claude-sonnet-4-5": {3.00, 15.00},
	// OpenAI
	"gpt-4o":      {2.50, 10.00},
	"gpt-4o-mini": {0.15, 0.60},
}

// EstimateTokens returns a word-based token estimate: words * 1.33, with
// len/4 as a floor for code and non-English text.
func EstimateTokens(content string) int {
	if content == "" {
		return 0
	}
	words := len(strings.Fields(content))
	wordEstimate := int(float64(words) * 1.33)
	charEstimate := len(content) / 4
	if wordEstimate > charEstimate {
		return wordEstimate
	}
	return charEstimate
}

// EstimateUsage prices a prompt and its completion for model. model may carry
// a provider prefix ("googleai/gemini-2.5-flash"). Unknown models cost 0.
func EstimateUsage(model, prompt, completion string) Usage {
	u := Usage{PromptTokens: EstimateTokens(prompt), CompletionTokens: EstimateTokens(completion)}
	if i := strings.LastIndexByte(model, '/'); i >= 0 {
		model = model[i+1:]
	}
	if p, ok := knownModels[model]; ok {
		u.CostUSD = (float64(u.PromptTokens)/1_000_000)*p.PromptPer1M +
			(float64(u.CompletionTokens)/1_000_000)*p.CompletionPer1M
	}
	return u
}
