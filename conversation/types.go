package conversation

import (
	"time"

	"github.com/TrialBlazer23/ai-conversation-platform/llm"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Participant is one model taking turns in a conversation. Its position in
// the participant list is its turn slot.
type Participant struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Name         string  `json:"name,omitempty"`
	Temperature  float64 `json:"temperature"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
}

// DisplayName returns the participant's name, falling back to its model
// identifier.
func (p Participant) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Model
}

// Message is one persisted conversation turn.
type Message struct {
	ID          string          `json:"id"`
	Role        llm.MessageRole `json:"role"`
	Content     string          `json:"content"`
	Participant string          `json:"participant"`
	TokensUsed  int             `json:"tokens_used"`
	Cost        float64         `json:"cost"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Conversation is a full multi-model conversation: its configuration, its
// transcript and its running accounting totals.
type Conversation struct {
	ID            string        `json:"id"`
	InitialPrompt string        `json:"initial_prompt"`
	Status        Status        `json:"status"`
	Participants  []Participant `json:"participants"`
	Messages      []Message     `json:"messages"`

	// CurrentIndex is the turn cursor: the position of the participant
	// who speaks next.
	CurrentIndex int     `json:"current_index"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CurrentParticipant returns the participant holding the turn cursor.
func (c *Conversation) CurrentParticipant() Participant {
	return c.Participants[c.CurrentIndex%len(c.Participants)]
}

// Summary is the list view of a conversation, without its transcript.
type Summary struct {
	ID            string    `json:"id"`
	InitialPrompt string    `json:"initial_prompt"`
	Status        Status    `json:"status"`
	MessageCount  int       `json:"message_count"`
	TotalTokens   int       `json:"total_tokens"`
	TotalCost     float64   `json:"total_cost"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
