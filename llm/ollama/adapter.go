package ollama

import (
	"github.com/ollama/ollama/api"
	"github.com/samber/lo"

	"github.com/TrialBlazer23/ai-conversation-platform/llm"
)

// toChatMessages converts canonical messages to Ollama chat messages.
// Ollama accepts the system role in-band; a configured system prompt is
// prepended as the first message.
func toChatMessages(system string, messages []llm.Message) []api.Message {
	converted := lo.Map(messages, func(msg llm.Message, _ int) api.Message {
		return api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	})

	if system == "" {
		return converted
	}
	prefix := api.Message{Role: "system", Content: system}
	return append([]api.Message{prefix}, converted...)
}
