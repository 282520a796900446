// Package conversation implements multi-model conversations: several LLM
// participants take turns speaking in a shared transcript, with round-robin
// turn rotation, token and cost accounting, response caching and durable
// persistence.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/TrialBlazer23/ai-conversation-platform/cache"
	"github.com/TrialBlazer23/ai-conversation-platform/llm"
	"github.com/TrialBlazer23/ai-conversation-platform/reliable"
	"github.com/TrialBlazer23/ai-conversation-platform/tokens"
)

// Factory builds a provider client. The default is llm.New; tests inject
// their own.
type Factory func(provider string, opts llm.Options) (llm.Client, error)

// EngineOptions configures an Engine. Zero values give a cache-less engine
// with default retry behavior and no request timeout.
type EngineOptions struct {
	// Cache holds provider responses. Nil disables caching.
	Cache *cache.ResponseCache
	// Factory overrides provider client construction.
	Factory Factory
	// Retry is the backoff schedule for provider calls.
	Retry reliable.RetryPolicy
	// CallsPerMinute throttles provider calls. Zero or less disables
	// throttling.
	CallsPerMinute int
	// RequestTimeout bounds a single provider call. Zero disables it.
	RequestTimeout time.Duration

	Logger zerolog.Logger
}

// Engine drives conversations: it resolves whose turn it is, calls that
// participant's provider, accounts for tokens and cost and commits the turn.
// Turns on the same conversation are serialized; different conversations
// advance concurrently.
type Engine struct {
	store   Store
	cache   *cache.ResponseCache
	factory Factory
	caller  *reliable.Caller
	timeout time.Duration
	logger  zerolog.Logger

	locks sync.Map // conversation ID -> *sync.Mutex
}

// NewEngine creates an Engine backed by the given store.
func NewEngine(store Store, opts EngineOptions) *Engine {
	factory := opts.Factory
	if factory == nil {
		factory = llm.New
	}
	logger := opts.Logger.With().Str("component", "conversation_engine").Logger()
	return &Engine{
		store:   store,
		cache:   opts.Cache,
		factory: factory,
		caller:  reliable.NewCaller(opts.Retry, reliable.NewRateLimiter(opts.CallsPerMinute), logger),
		timeout: opts.RequestTimeout,
		logger:  logger,
	}
}

// Start creates a conversation from an initial prompt and a participant
// list. The prompt is recorded as the opening user message, attributed to
// the human and costing nothing, and the turn cursor points at the first
// participant.
func (e *Engine) Start(ctx context.Context, prompt string, participants []Participant) (*Conversation, error) {
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}

	now := time.Now().UTC()
	conv := &Conversation{
		ID:            uuid.NewString(),
		InitialPrompt: prompt,
		Status:        StatusActive,
		Participants:  append([]Participant(nil), participants...),
		Messages: []Message{{
			ID:          uuid.NewString(),
			Role:        llm.RoleUser,
			Content:     prompt,
			Participant: "User",
			CreatedAt:   now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	e.logger.Info().
		Str("conversation_id", conv.ID).
		Int("participants", len(participants)).
		Msg("conversation started")
	return conv, nil
}

// TurnOptions carries per-turn inputs that are never persisted.
type TurnOptions struct {
	// APIKey authenticates the current participant's provider.
	APIKey string
	// Host points local-inference providers at their server.
	Host string
	// BaseURL overrides the endpoint of OpenAI-compatible providers.
	BaseURL string
	// Organization is an OpenAI organization ID.
	Organization string
	// EditedLast, when non-empty, replaces the trailing message's content
	// for this turn only. The stored transcript is not changed.
	EditedLast string
}

// TurnResult is the outcome of one completed turn.
type TurnResult struct {
	Message         Message      `json:"message"`
	NextParticipant Participant  `json:"next_participant"`
	Usage           tokens.Usage `json:"usage"`
}

// turn is the resolved state a provider call needs.
type turn struct {
	conv        *Conversation
	participant Participant
	client      llm.Client
	counter     *tokens.Counter
	history     []llm.Message
	inputTokens int
}

func (e *Engine) prepareTurn(ctx context.Context, id string, opts TurnOptions) (*turn, error) {
	conv, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Status != StatusActive {
		return nil, fmt.Errorf("%w: %s", ErrConversationClosed, conv.Status)
	}
	if len(conv.Participants) == 0 {
		return nil, ErrNoParticipants
	}

	p := conv.CurrentParticipant()
	// Unknown providers fall through to the factory, whose error names
	// the bad key.
	if requires, err := llm.RequiresCredential(p.Provider); err == nil && requires && opts.APIKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingCredential, p.Provider)
	}

	client, err := e.factory(p.Provider, llm.Options{
		APIKey:       opts.APIKey,
		Model:        p.Model,
		Temperature:  p.Temperature,
		SystemPrompt: p.SystemPrompt,
		Host:         opts.Host,
		BaseURL:      opts.BaseURL,
		Organization: opts.Organization,
		Timeout:      e.timeout,
		Logger:       e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build %s client: %w", p.Provider, err)
	}

	history := lo.Map(conv.Messages, func(m Message, _ int) llm.Message {
		return llm.NewMessage(m.Role, m.Content)
	})
	if opts.EditedLast != "" && len(history) > 0 {
		history[len(history)-1].Content = opts.EditedLast
	}

	counter := tokens.NewCounter(p.Model)
	return &turn{
		conv:        conv,
		participant: p,
		client:      client,
		counter:     counter,
		history:     history,
		inputTokens: counter.CountConversation(history),
	}, nil
}

// Advance runs one complete turn: the participant at the cursor replies to
// the transcript, the reply is accounted and committed and the cursor moves
// to the next participant.
func (e *Engine) Advance(ctx context.Context, id string, opts TurnOptions) (*TurnResult, error) {
	mu := e.lock(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := e.prepareTurn(ctx, id, opts)
	if err != nil {
		return nil, err
	}

	text, cached, err := e.generate(ctx, t)
	if err != nil {
		return nil, err
	}
	return e.commitTurn(ctx, t, text, cached)
}

// generate produces the reply text, consulting the response cache around
// the provider call when one is configured.
func (e *Engine) generate(ctx context.Context, t *turn) (string, bool, error) {
	var key string
	if e.cache != nil {
		key = cache.Key(t.participant.Provider, t.participant.Model, t.history, t.participant.Temperature)
		if text, ok := e.cache.Get(key); ok {
			e.logger.Debug().
				Str("conversation_id", t.conv.ID).
				Str("provider", t.participant.Provider).
				Msg("serving cached response")
			return text, true, nil
		}
	}

	text, err := e.caller.Generate(ctx, t.client, t.history)
	if err != nil {
		return "", false, err
	}
	if e.cache != nil {
		e.cache.Set(key, text)
	}
	return text, false, nil
}

// commitTurn accounts the reply, persists it atomically with the cursor
// advance and reports the turn outcome. Cached replies cost nothing.
func (e *Engine) commitTurn(ctx context.Context, t *turn, text string, cached bool) (*TurnResult, error) {
	outputTokens := t.counter.Count(text)

	var cost float64
	var metadata map[string]any
	if cached {
		metadata = map[string]any{"cached": true}
	} else {
		cost = tokens.Cost(t.participant.Model, t.inputTokens, outputTokens)
	}

	msg := Message{
		ID:          uuid.NewString(),
		Role:        llm.RoleAssistant,
		Content:     text,
		Participant: t.participant.DisplayName(),
		TokensUsed:  t.inputTokens + outputTokens,
		Cost:        cost,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}
	nextIndex := (t.conv.CurrentIndex + 1) % len(t.conv.Participants)
	if err := e.store.CommitTurn(ctx, t.conv.ID, msg, nextIndex); err != nil {
		return nil, fmt.Errorf("commit turn: %w", err)
	}

	usage := t.counter.ContextUsage(append(t.history, llm.NewMessage(llm.RoleAssistant, text)))
	e.logger.Info().
		Str("conversation_id", t.conv.ID).
		Str("participant", msg.Participant).
		Int("tokens", msg.TokensUsed).
		Float64("cost", msg.Cost).
		Bool("cached", cached).
		Msg("turn committed")

	return &TurnResult{
		Message:         msg,
		NextParticipant: t.conv.Participants[nextIndex],
		Usage:           usage,
	}, nil
}

// EventType discriminates stream events.
type EventType string

const (
	// EventMetadata opens a streamed turn and names who is speaking.
	EventMetadata EventType = "metadata"
	// EventContent carries one fragment of reply text.
	EventContent EventType = "content"
	// EventDone closes a streamed turn after the reply was committed.
	EventDone EventType = "done"
	// EventError closes a streamed turn that failed. Nothing from a
	// failed turn is persisted.
	EventError EventType = "error"
)

// StreamEvent is one event of a streamed turn. The sequence is always
// metadata, zero or more content fragments, then exactly one done or error.
type StreamEvent struct {
	Type        EventType     `json:"type"`
	Participant string        `json:"participant,omitempty"`
	Model       string        `json:"model,omitempty"`
	Timestamp   time.Time     `json:"timestamp,omitempty"`
	Content     string        `json:"content,omitempty"`
	Message     *Message      `json:"turn_message,omitempty"`
	Usage       *tokens.Usage `json:"usage,omitempty"`
	// NextParticipant names who speaks after a committed turn. Set only
	// on done events.
	NextParticipant string `json:"next_participant,omitempty"`
	// ErrMessage carries the failure text of an error event.
	ErrMessage string `json:"message,omitempty"`
	Err        error  `json:"-"`
}

func errorEvent(err error) StreamEvent {
	return StreamEvent{Type: EventError, ErrMessage: err.Error(), Err: err}
}

// AdvanceStream runs one turn like Advance but delivers the reply
// incrementally over the returned channel. The turn is committed only when
// the stream completes; a consumer that abandons the channel cancels it via
// ctx. Streamed turns bypass the response cache.
func (e *Engine) AdvanceStream(ctx context.Context, id string, opts TurnOptions) (<-chan StreamEvent, error) {
	mu := e.lock(id)
	mu.Lock()

	t, err := e.prepareTurn(ctx, id, opts)
	if err != nil {
		mu.Unlock()
		return nil, err
	}

	events := make(chan StreamEvent)
	go func() {
		defer mu.Unlock()
		defer close(events)
		e.runStream(ctx, t, events)
	}()
	return events, nil
}

func (e *Engine) runStream(ctx context.Context, t *turn, events chan<- StreamEvent) {
	send := func(ev StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	stream, err := e.caller.Stream(ctx, t.client, t.history)
	if err != nil {
		send(errorEvent(err))
		return
	}
	defer stream.Close()

	if !send(StreamEvent{
		Type:        EventMetadata,
		Participant: t.participant.DisplayName(),
		Model:       t.participant.Model,
		Timestamp:   time.Now().UTC(),
	}) {
		return
	}

	var full []byte
	for stream.Next() {
		fragment := stream.Text()
		full = append(full, fragment...)
		if !send(StreamEvent{Type: EventContent, Content: fragment}) {
			return
		}
	}
	if err := stream.Err(); err != nil {
		send(errorEvent(err))
		return
	}

	result, err := e.commitTurn(ctx, t, string(full), false)
	if err != nil {
		send(errorEvent(err))
		return
	}
	send(StreamEvent{
		Type:            EventDone,
		Message:         &result.Message,
		Usage:           &result.Usage,
		NextParticipant: result.NextParticipant.DisplayName(),
	})
}

// TokenUsage reports how much of the current participant's context window
// the conversation occupies.
func (e *Engine) TokenUsage(ctx context.Context, id string) (tokens.Usage, error) {
	conv, err := e.store.Get(ctx, id)
	if err != nil {
		return tokens.Usage{}, err
	}
	if len(conv.Participants) == 0 {
		return tokens.Usage{}, ErrNoParticipants
	}
	counter := tokens.NewCounter(conv.CurrentParticipant().Model)
	history := lo.Map(conv.Messages, func(m Message, _ int) llm.Message {
		return llm.NewMessage(m.Role, m.Content)
	})
	return counter.ContextUsage(history), nil
}

// Get loads a conversation with its full transcript.
func (e *Engine) Get(ctx context.Context, id string) (*Conversation, error) {
	return e.store.Get(ctx, id)
}

// List returns conversation summaries ordered by most recent update. A
// limit of zero or less means no limit.
func (e *Engine) List(ctx context.Context, limit, offset int) ([]Summary, error) {
	return e.store.List(ctx, limit, offset)
}

// Delete removes a conversation and everything attached to it.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.store.Delete(ctx, id)
}

// SetStatus updates a conversation's lifecycle state.
func (e *Engine) SetStatus(ctx context.Context, id string, status Status) error {
	return e.store.SetStatus(ctx, id, status)
}

// Export renders a conversation with its full transcript as indented JSON.
func (e *Engine) Export(ctx context.Context, id string) ([]byte, error) {
	conv, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(conv, "", "  ")
}

func (e *Engine) lock(id string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
