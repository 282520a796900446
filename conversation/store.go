package conversation

import "context"

// Store persists conversations. Implementations must make CommitTurn
// atomic: the message insert, the accounting update and the cursor advance
// land together or not at all.
type Store interface {
	// Create persists a new conversation with its participants and any
	// initial messages.
	Create(ctx context.Context, conv *Conversation) error

	// Get loads a conversation with its full transcript. Returns
	// ErrNotFound when no conversation has the given ID.
	Get(ctx context.Context, id string) (*Conversation, error)

	// CommitTurn appends a message, adds its tokens and cost to the
	// conversation totals and moves the turn cursor to nextIndex, all in
	// one transaction.
	CommitTurn(ctx context.Context, id string, msg Message, nextIndex int) error

	// List returns conversation summaries ordered by most recent update.
	// A limit of zero or less means no limit.
	List(ctx context.Context, limit, offset int) ([]Summary, error)

	// Delete removes a conversation and its messages and participants.
	Delete(ctx context.Context, id string) error

	// SetStatus updates a conversation's lifecycle state.
	SetStatus(ctx context.Context, id string, status Status) error
}
