// Package tokens provides token counting, context window accounting and
// cost estimation for conversation messages.
package tokens

import (
	"math"

	"github.com/pkoukk/tiktoken-go"

	"github.com/TrialBlazer23/ai-conversation-platform/llm"
)

const (
	// messageOverhead accounts for per-message framing tokens added by
	// chat completion wire formats.
	messageOverhead = 4
	// replyPriming accounts for the tokens priming the assistant reply.
	replyPriming = 2
	// reserveBuffer is held back from the available budget so a model
	// always has room to respond.
	reserveBuffer = 500
	// warningThreshold is the context percentage above which Usage
	// reports a warning.
	warningThreshold = 80.0
)

// encoder turns text into a token count.
type encoder interface {
	count(text string) int
}

type tiktokenEncoder struct {
	enc *tiktoken.Tiktoken
}

func (e *tiktokenEncoder) count(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}

// approxEncoder estimates roughly four characters per token. Used when no
// tokenizer vocabulary is available for the model.
type approxEncoder struct{}

func (approxEncoder) count(text string) int {
	return len(text) / 4
}

// Counter counts tokens for a specific model.
type Counter struct {
	model string
	enc   encoder
}

// NewCounter builds a Counter for the given model. Models without a known
// tokenizer fall back to the cl100k_base vocabulary, and if that cannot be
// loaded a character based approximation is used.
func NewCounter(model string) *Counter {
	c := &Counter{model: model}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	}
	if err != nil {
		c.enc = approxEncoder{}
	} else {
		c.enc = &tiktokenEncoder{enc: enc}
	}
	return c
}

// Model returns the model this counter was built for.
func (c *Counter) Model() string { return c.model }

// Count returns the number of tokens in a piece of text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	return c.enc.count(text)
}

// CountConversation returns the token footprint of a full message list as
// submitted to a chat completion endpoint, including per-message framing
// and reply priming overhead.
func (c *Counter) CountConversation(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += messageOverhead
		total += c.Count(string(msg.Role))
		total += c.Count(msg.Content)
	}
	return total + replyPriming
}

// Usage describes how much of a model's context window a conversation
// occupies.
type Usage struct {
	Used       int     `json:"used"`
	Max        int     `json:"max"`
	Available  int     `json:"available"`
	Percentage float64 `json:"percentage"`
	Warning    bool    `json:"warning"`
	Exceeded   bool    `json:"exceeded"`
}

// ContextUsage reports the context window occupancy of a message list. The
// available budget holds back a reserve so the model can still produce a
// reply near the limit. Percentage is 0..100, rounded to two decimals.
func (c *Counter) ContextUsage(messages []llm.Message) Usage {
	used := c.CountConversation(messages)
	max := ContextLimit(c.model)
	available := max - used - reserveBuffer
	if available < 0 {
		available = 0
	}
	pct := math.Round(float64(used)/float64(max)*100*100) / 100
	return Usage{
		Used:       used,
		Max:        max,
		Available:  available,
		Percentage: pct,
		Warning:    pct >= warningThreshold,
		Exceeded:   used >= max,
	}
}

// Trim reduces a message list to fit within maxTokens as measured by
// CountConversation. System messages are always kept. The remaining budget
// is filled with the newest messages first, preserving their original
// order, and filling stops at the first message that does not fit.
func (c *Counter) Trim(messages []llm.Message, maxTokens int) []llm.Message {
	if c.CountConversation(messages) <= maxTokens {
		return messages
	}

	trimmed := make([]llm.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			trimmed = append(trimmed, msg)
		}
	}
	insertAt := len(trimmed)

	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role == llm.RoleSystem {
			continue
		}
		candidate := make([]llm.Message, 0, len(trimmed)+1)
		candidate = append(candidate, trimmed[:insertAt]...)
		candidate = append(candidate, msg)
		candidate = append(candidate, trimmed[insertAt:]...)
		if c.CountConversation(candidate) > maxTokens {
			break
		}
		trimmed = candidate
	}
	return trimmed
}
