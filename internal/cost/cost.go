// Package cost estimates the token usage and dollar cost of a model call.
// Estimates are advisory analytics only and never influence evaluation
// outcomes.
package cost

// Pricing is USD per one million tokens.
type Pricing struct {
	Input  float64
	Output float64
}

// pricingTable maps model IDs to their published per-million-token prices.
// Unlisted models fall back to defaultPricing, a deliberately conservative
// tier, rather than erroring. Update alongside vendor price changes.
var pricingTable = map[string]Pricing{
	"gpt-4-turbo":              {Input: 10.00, Output: 30.00},
	"gpt-4o":                   {Input: 2.50, Output: 10.00},
	"gpt-3.5-turbo":            {Input: 0.50, Output: 1.50},
	"claude-3-opus-20240229":   {Input: 15.00, Output: 75.00},
	"claude-3-sonnet-20240229": {Input: 3.00, Output: 15.00},
	"claude-3-haiku-20240307":  {Input: 0.25, Output: 1.25},
	"gemini-2.5-flash":         {Input: 0.075, Output: 0.30},
	"gemini-2.0-flash":         {Input: 0.075, Output: 0.30},
	"gemini-2.0-flash-lite":    {Input: 0.075, Output: 0.30},
	"gemini-pro":               {Input: 0.50, Output: 1.50},
}

var defaultPricing = Pricing{Input: 1.00, Output: 2.00}

// Estimate holds the approximate token counts and cost of one call.
type Estimate struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Tokens approximates the token count of text as ceil(len/4). Coarse, but
// stable and tokenizer-free, which is all the analytics need.
func Tokens(text string) int {
	return (len(text) + 3) / 4
}

// ForModel returns the pricing tier for a model ID, falling back to the
// default tier for unknown models.
func ForModel(modelID string) Pricing {
	if p, ok := pricingTable[modelID]; ok {
		return p
	}
	return defaultPricing
}

// EstimateCall estimates tokens and cost for one call given the full input
// and output text.
func EstimateCall(modelID, inputText, outputText string) Estimate {
	in := Tokens(inputText)
	out := Tokens(outputText)
	return Estimate{
		InputTokens:  in,
		OutputTokens: out,
		CostUSD:      Cost(modelID, in, out),
	}
}

// Cost computes the dollar cost of a call from its token counts.
func Cost(modelID string, inputTokens, outputTokens int) float64 {
	p := ForModel(modelID)
	return float64(inputTokens)/1e6*p.Input + float64(outputTokens)/1e6*p.Output
}
