package llm

// MessageRole represents the role of a message in a conversation.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is a single canonical conversation message. A slice of Messages is
// ordered oldest to newest and is the transcript replayed to providers.
// Adapters translate this shape into whatever the vendor wire format expects.
type Message struct {
	Role    MessageRole
	Content string
}

// NewMessage creates a Message with the given role and content.
func NewMessage(role MessageRole, content string) Message {
	return Message{Role: role, Content: content}
}
