package gemini

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/TrialBlazer23/ai-conversation-platform/llm"
)

// sseStream reassembles the server-sent-event framing of
// streamGenerateContent into plain text fragments. Each data line carries a
// complete generateResponse chunk.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	text    string
	err     error
	closed  bool
}

func newSSEStream(body io.ReadCloser) *sseStream {
	scanner := bufio.NewScanner(body)
	// Fragments can carry large model output; the default 64K token limit
	// is not enough for long single-event payloads.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseStream{body: body, scanner: scanner}
}

// Next advances to the next text fragment.
func (s *sseStream) Next() bool {
	if s.err != nil || s.closed {
		return false
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk generateResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			s.err = llm.NewProtocolError("malformed gemini stream chunk", err)
			return false
		}
		if chunk.Error != nil {
			s.err = convertStatusError(chunk.Error.Code, []byte(data))
			return false
		}
		if text := candidateText(chunk); text != "" {
			s.text = text
			return true
		}
	}
	if err := s.scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		s.err = llm.NewTransientError("gemini stream interrupted", err)
	}
	return false
}

func (s *sseStream) Text() string { return s.text }
func (s *sseStream) Err() error   { return s.err }

// Close releases the response body; the server observes the closed
// connection and stops generating.
func (s *sseStream) Close() error {
	s.closed = true
	return s.body.Close()
}

var _ llm.Stream = (*sseStream)(nil)
