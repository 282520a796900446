package anthropic

import (
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/samber/lo"

	"github.com/TrialBlazer23/ai-conversation-platform/llm"
)

// splitSystem extracts system-role messages out of the canonical list and
// folds them into the top-level system instruction, which is where the
// Anthropic API expects them. The configured system prompt comes first.
func splitSystem(configured string, messages []llm.Message) (string, []llm.Message) {
	parts := make([]string, 0, 1)
	if configured != "" {
		parts = append(parts, configured)
	}

	rest := make([]llm.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			parts = append(parts, msg.Content)
			continue
		}
		rest = append(rest, msg)
	}

	return strings.Join(parts, "\n\n"), rest
}

// toMessageParams converts canonical messages to Anthropic MessageParams.
// System messages must already be split out.
func toMessageParams(messages []llm.Message) []anthropic.MessageParam {
	return lo.Map(messages, func(msg llm.Message, _ int) anthropic.MessageParam {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == llm.RoleAssistant {
			return anthropic.NewAssistantMessage(block)
		}
		return anthropic.NewUserMessage(block)
	})
}
