package anthropic

import (
	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/TrialBlazer23/ai-conversation-platform/llm"
)

// textStream adapts the SDK's SSE event stream to the llm.Stream contract,
// surfacing only text deltas.
type textStream struct {
	inner *ssestream.Stream[anthropic.MessageStreamEventUnion]
	text  string
	err   error
}

// Next advances to the next text fragment, skipping non-text events.
func (s *textStream) Next() bool {
	if s.err != nil {
		return false
	}
	for s.inner.Next() {
		event := s.inner.Current()
		if deltaEvent, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := deltaEvent.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				s.text = delta.Text
				return true
			}
		}
	}
	if err := s.inner.Err(); err != nil {
		s.err = convertError(err)
	}
	return false
}

func (s *textStream) Text() string { return s.text }
func (s *textStream) Err() error   { return s.err }
func (s *textStream) Close() error { return s.inner.Close() }

var _ llm.Stream = (*textStream)(nil)
