package llm

import (
	"context"
)

// Client provides a provider-neutral interface for making LLM API calls.
// Implementations handle provider-specific details internally: role
// vocabulary, system-prompt placement, authentication, and stream framing.
//
// One Client instance serves exactly one turn; implementations must not
// mutate shared state.
type Client interface {
	// Generate sends the canonical message list and returns the complete
	// assistant reply text. Failures are reported as *Error values wrapping
	// the backend's own fault.
	Generate(ctx context.Context, messages []Message) (string, error)

	// GenerateStream sends the canonical message list and returns a stream
	// of text fragments. Consuming the stream to exhaustion yields the same
	// total text Generate would have returned. The stream is not seekable;
	// it can only be restarted by calling GenerateStream again.
	GenerateStream(ctx context.Context, messages []Message) (Stream, error)
}

// Stream represents an incremental text response from an LLM.
type Stream interface {
	// Next advances to the next text fragment.
	// Returns false when the stream is complete or an error occurs.
	Next() bool

	// Text returns the current fragment.
	// Only valid after Next() returns true.
	Text() string

	// Err returns any error that occurred during streaming.
	Err() error

	// Close closes the stream and releases resources. The producer stops
	// issuing further reads upstream once closed.
	Close() error
}

// SingleTextStream returns a Stream that yields text as one fragment and
// then completes. Adapters for backends without a native incremental mode
// degenerate to this.
func SingleTextStream(text string) Stream {
	return &singleStream{text: text}
}

type singleStream struct {
	text    string
	yielded bool
}

func (s *singleStream) Next() bool {
	if s.yielded {
		return false
	}
	s.yielded = true
	return true
}

func (s *singleStream) Text() string { return s.text }
func (s *singleStream) Err() error   { return nil }
func (s *singleStream) Close() error { return nil }
