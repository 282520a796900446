package gemini

import (
	"github.com/samber/lo"

	"github.com/TrialBlazer23/ai-conversation-platform/llm"
)

// toContents converts canonical messages to Gemini contents. Gemini's role
// vocabulary is user/model: assistant renames to model, and in-band system
// messages demote to user turns (the configured system prompt travels
// separately as systemInstruction).
func toContents(messages []llm.Message) []content {
	return lo.Map(messages, func(msg llm.Message, _ int) content {
		return content{
			Role:  toRole(msg.Role),
			Parts: []part{{Text: msg.Content}},
		}
	})
}

func toRole(role llm.MessageRole) string {
	if role == llm.RoleAssistant {
		return "model"
	}
	return "user"
}
