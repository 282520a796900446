package conversation

import "errors"

var (
	// ErrNotFound is returned when no conversation exists for an ID.
	ErrNotFound = errors.New("conversation not found")
	// ErrNoParticipants is returned when a conversation is started or
	// advanced with an empty participant list.
	ErrNoParticipants = errors.New("conversation has no participants")
	// ErrEmptyPrompt is returned when a conversation is started with a
	// blank initial prompt.
	ErrEmptyPrompt = errors.New("initial prompt is empty")
	// ErrConversationClosed is returned when a turn is requested on a
	// conversation that is not active.
	ErrConversationClosed = errors.New("conversation is not active")
	// ErrMissingCredential is returned when the current participant's
	// provider needs an API key and none was supplied.
	ErrMissingCredential = errors.New("missing provider credential")
)
