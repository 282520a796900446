package tokens

// DefaultContextLimit is the conservative fallback for unrecognized models.
const DefaultContextLimit = 4096

// contextLimits maps model identifiers to maximum context sizes in tokens.
var contextLimits = map[string]int{
	// OpenAI models
	"gpt-4o":        128000,
	"gpt-4o-mini":   128000,
	"gpt-4-turbo":   128000,
	"o1-preview":    128000,
	"o1-mini":       128000,
	"gpt-4":         8192,
	"gpt-3.5-turbo": 16385,
	// Anthropic models
	"claude-3-5-sonnet-20241022": 200000,
	"claude-3-5-haiku-20241022":  200000,
	"claude-3-opus-20240229":     200000,
	"claude-3-sonnet-20240229":   200000,
	"claude-3-haiku-20240307":    200000,
	// Google Gemini models
	"gemini-2.0-flash-exp": 1000000,
	"gemini-1.5-pro":       2000000,
	"gemini-1.5-flash":     1000000,
}

// unitPrice is USD per 1000 tokens.
type unitPrice struct {
	input  float64
	output float64
}

// unitPrices maps model identifiers to per-1K-token prices. Local and
// unknown models cost nothing.
var unitPrices = map[string]unitPrice{
	// OpenAI models
	"gpt-4o":        {input: 0.0025, output: 0.01},
	"gpt-4o-mini":   {input: 0.00015, output: 0.0006},
	"gpt-4-turbo":   {input: 0.01, output: 0.03},
	"o1-preview":    {input: 0.015, output: 0.06},
	"o1-mini":       {input: 0.003, output: 0.012},
	"gpt-4":         {input: 0.03, output: 0.06},
	"gpt-3.5-turbo": {input: 0.0005, output: 0.0015},
	// Anthropic models
	"claude-3-5-sonnet-20241022": {input: 0.003, output: 0.015},
	"claude-3-5-haiku-20241022":  {input: 0.0008, output: 0.004},
	"claude-3-opus-20240229":     {input: 0.015, output: 0.075},
	"claude-3-sonnet-20240229":   {input: 0.003, output: 0.015},
	"claude-3-haiku-20240307":    {input: 0.00025, output: 0.00125},
	// Google Gemini models (2.0 flash free during preview)
	"gemini-2.0-flash-exp": {},
	"gemini-1.5-pro":       {input: 0.00125, output: 0.005},
	"gemini-1.5-flash":     {input: 0.000075, output: 0.0003},
}

// ContextLimit returns the maximum context size for a model, falling back to
// a conservative default for unknown models.
func ContextLimit(model string) int {
	if limit, ok := contextLimits[model]; ok {
		return limit
	}
	return DefaultContextLimit
}

// Cost computes the monetary cost in USD of a call from token counts and
// the static per-model unit prices. Unknown models cost zero.
func Cost(model string, inputTokens, outputTokens int) float64 {
	price, ok := unitPrices[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000*price.input + float64(outputTokens)/1000*price.output
}
