package openai

import (
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/TrialBlazer23/ai-conversation-platform/llm"
)

// textStream adapts go-openai's SSE completion stream to the llm.Stream
// contract.
type textStream struct {
	inner *openai.ChatCompletionStream
	text  string
	err   error
}

// Next advances to the next non-empty content delta.
func (s *textStream) Next() bool {
	if s.err != nil {
		return false
	}
	for {
		resp, err := s.inner.Recv()
		if errors.Is(err, io.EOF) {
			return false
		}
		if err != nil {
			s.err = convertError(err)
			return false
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			s.text = delta
			return true
		}
	}
}

func (s *textStream) Text() string { return s.text }
func (s *textStream) Err() error   { return s.err }
func (s *textStream) Close() error { return s.inner.Close() }

var _ llm.Stream = (*textStream)(nil)
