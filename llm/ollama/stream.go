package ollama

import (
	"context"
	"sync"

	"github.com/ollama/ollama/api"

	"github.com/TrialBlazer23/ai-conversation-platform/llm"
)

// chatStream bridges Ollama's push-style chat callback to the pull-style
// llm.Stream contract. The callback goroutine appends fragments to a buffer
// guarded by a mutex and condition variable; Next blocks until a fragment is
// available or the stream finishes.
type chatStream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	client  *api.Client
	req     *api.ChatRequest
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []string
	current int
	err     error
	done    bool
	started bool
}

func newChatStream(ctx context.Context, client *api.Client, req *api.ChatRequest) *chatStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &chatStream{
		ctx:     ctx,
		cancel:  cancel,
		client:  client,
		req:     req,
		current: -1,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Next advances to the next fragment, starting the upstream request on
// first use.
func (s *chatStream) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.started = true
		go s.run()
	}

	s.current++
	for s.current >= len(s.buf) && !s.done && s.err == nil {
		s.cond.Wait()
	}

	if s.err != nil {
		return false
	}
	return s.current < len(s.buf)
}

func (s *chatStream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current < 0 || s.current >= len(s.buf) {
		return ""
	}
	return s.buf[s.current]
}

func (s *chatStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close abandons the upstream request; the producer goroutine observes the
// cancelled context and stops.
func (s *chatStream) Close() error {
	s.cancel()
	s.mu.Lock()
	s.done = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

func (s *chatStream) run() {
	err := s.client.Chat(s.ctx, s.req, func(resp api.ChatResponse) error {
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		if resp.Message.Content == "" {
			return nil
		}
		s.mu.Lock()
		s.buf = append(s.buf, resp.Message.Content)
		s.cond.Broadcast()
		s.mu.Unlock()
		return nil
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil && !s.done && s.ctx.Err() == nil {
		s.err = convertError(err)
	}
	s.done = true
	s.cond.Broadcast()
}

var _ llm.Stream = (*chatStream)(nil)
