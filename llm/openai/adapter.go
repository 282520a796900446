package openai

import (
	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"

	"github.com/TrialBlazer23/ai-conversation-platform/llm"
)

// toChatMessages converts canonical messages to OpenAI chat messages.
// OpenAI supports the system role in-band, so a configured system prompt is
// prepended as the first message.
func toChatMessages(system string, messages []llm.Message) []openai.ChatCompletionMessage {
	converted := lo.Map(messages, func(msg llm.Message, _ int) openai.ChatCompletionMessage {
		return openai.ChatCompletionMessage{
			Role:    toRole(msg.Role),
			Content: msg.Content,
		}
	})

	if system == "" {
		return converted
	}
	prefix := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	}
	return append([]openai.ChatCompletionMessage{prefix}, converted...)
}

func toRole(role llm.MessageRole) string {
	switch role {
	case llm.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case llm.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
