package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/TrialBlazer23/ai-conversation-platform/cache"
	"github.com/TrialBlazer23/ai-conversation-platform/llm"
	"github.com/TrialBlazer23/ai-conversation-platform/reliable"
)

func init() {
	// The credential check consults the provider registry; the adapter
	// packages are not imported here, so register stand-ins.
	stub := func(_ llm.Options) (llm.Client, error) { return &scriptClient{}, nil }
	llm.Register(llm.ProviderAnthropic, llm.Registration{New: stub, RequiresCredential: true})
	llm.Register(llm.ProviderOpenAI, llm.Registration{New: stub, RequiresCredential: true})
	llm.Register(llm.ProviderOllama, llm.Registration{New: stub})
}

// memStore is an in-memory Store for engine tests.
type memStore struct {
	mu    sync.Mutex
	convs map[string]*Conversation
}

func newMemStore() *memStore {
	return &memStore{convs: make(map[string]*Conversation)}
}

func (s *memStore) Create(_ context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *conv
	s.convs[conv.ID] = &clone
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *conv
	clone.Messages = append([]Message(nil), conv.Messages...)
	clone.Participants = append([]Participant(nil), conv.Participants...)
	return &clone, nil
}

func (s *memStore) CommitTurn(_ context.Context, id string, msg Message, nextIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return ErrNotFound
	}
	conv.Messages = append(conv.Messages, msg)
	conv.TotalTokens += msg.TokensUsed
	conv.TotalCost += msg.Cost
	conv.CurrentIndex = nextIndex
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) List(_ context.Context, _, _ int) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summaries := make([]Summary, 0, len(s.convs))
	for _, conv := range s.convs {
		summaries = append(summaries, Summary{
			ID:           conv.ID,
			Status:       conv.Status,
			MessageCount: len(conv.Messages),
			TotalTokens:  conv.TotalTokens,
			TotalCost:    conv.TotalCost,
		})
	}
	return summaries, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return ErrNotFound
	}
	delete(s.convs, id)
	return nil
}

func (s *memStore) SetStatus(_ context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return ErrNotFound
	}
	conv.Status = status
	return nil
}

// scriptClient replies with canned text and records what it was asked.
type scriptClient struct {
	text      string
	fragments []string
	err       error

	mu    sync.Mutex
	calls int
	seen  [][]llm.Message
}

func (c *scriptClient) Generate(_ context.Context, messages []llm.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.seen = append(c.seen, append([]llm.Message(nil), messages...))
	if c.err != nil {
		return "", c.err
	}
	return c.text, nil
}

func (c *scriptClient) GenerateStream(_ context.Context, messages []llm.Message) (llm.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.seen = append(c.seen, append([]llm.Message(nil), messages...))
	if c.err != nil {
		return nil, c.err
	}
	return &fragmentStream{fragments: c.fragments}, nil
}

type fragmentStream struct {
	fragments []string
	pos       int
}

func (s *fragmentStream) Next() bool {
	if s.pos >= len(s.fragments) {
		return false
	}
	s.pos++
	return true
}

func (s *fragmentStream) Text() string { return s.fragments[s.pos-1] }
func (s *fragmentStream) Err() error   { return nil }
func (s *fragmentStream) Close() error { return nil }

// stallingClient yields one fragment and then blocks until its context is
// cancelled, like a provider mid-reply.
type stallingClient struct {
	fragment string
}

func (c *stallingClient) Generate(_ context.Context, _ []llm.Message) (string, error) {
	return c.fragment, nil
}

func (c *stallingClient) GenerateStream(ctx context.Context, _ []llm.Message) (llm.Stream, error) {
	return &stallingStream{ctx: ctx, fragment: c.fragment}, nil
}

type stallingStream struct {
	ctx      context.Context
	fragment string
	yielded  bool
}

func (s *stallingStream) Next() bool {
	if !s.yielded {
		s.yielded = true
		return true
	}
	<-s.ctx.Done()
	return false
}

func (s *stallingStream) Text() string { return s.fragment }

func (s *stallingStream) Err() error {
	if err := s.ctx.Err(); err != nil {
		return llm.NewTransientError("stream interrupted", err)
	}
	return nil
}

func (s *stallingStream) Close() error { return nil }

func fixedFactory(client llm.Client) Factory {
	return func(_ string, _ llm.Options) (llm.Client, error) {
		return client, nil
	}
}

func newTestEngine(store Store, factory Factory) *Engine {
	return NewEngine(store, EngineOptions{
		Factory: factory,
		Retry:   reliable.RetryPolicy{MaxAttempts: 1},
		Logger:  zerolog.Nop(),
	})
}

func twoParticipants() []Participant {
	return []Participant{
		{Provider: llm.ProviderAnthropic, Model: "claude-3-5-haiku-20241022", Name: "Alice"},
		{Provider: llm.ProviderOpenAI, Model: "gpt-4o-mini", Name: "Bob"},
	}
}

func TestStartValidation(t *testing.T) {
	e := newTestEngine(newMemStore(), fixedFactory(&scriptClient{}))

	if _, err := e.Start(context.Background(), "", twoParticipants()); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
	if _, err := e.Start(context.Background(), "hi", nil); !errors.Is(err, ErrNoParticipants) {
		t.Fatalf("expected ErrNoParticipants, got %v", err)
	}
}

func TestStartRecordsInitialMessage(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store, fixedFactory(&scriptClient{}))

	conv, err := e.Start(context.Background(), "discuss entropy", twoParticipants())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	got, err := store.Get(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("expected one initial message, got %d", len(got.Messages))
	}
	first := got.Messages[0]
	if first.Role != llm.RoleUser || first.Participant != "User" || first.Content != "discuss entropy" {
		t.Fatalf("unexpected initial message: %+v", first)
	}
	if first.TokensUsed != 0 || first.Cost != 0 {
		t.Fatalf("initial message must not be attributed tokens or cost: %+v", first)
	}
	if got.CurrentIndex != 0 || got.Status != StatusActive {
		t.Fatalf("unexpected conversation state: %+v", got)
	}
}

func TestAdvanceRotatesCursorModuloParticipants(t *testing.T) {
	store := newMemStore()
	client := &scriptClient{text: "a reply"}
	e := newTestEngine(store, fixedFactory(client))

	conv, err := e.Start(context.Background(), "go", twoParticipants())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	opts := TurnOptions{APIKey: "test-key"}
	for i := 0; i < 5; i++ {
		res, err := e.Advance(context.Background(), conv.ID, opts)
		if err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		wantSpeaker := twoParticipants()[i%2].Name
		if res.Message.Participant != wantSpeaker {
			t.Fatalf("turn %d: expected %s to speak, got %s", i, wantSpeaker, res.Message.Participant)
		}
		wantNext := twoParticipants()[(i+1)%2].Name
		if res.NextParticipant.Name != wantNext {
			t.Fatalf("turn %d: expected next %s, got %s", i, wantNext, res.NextParticipant.Name)
		}
	}

	got, _ := store.Get(context.Background(), conv.ID)
	if got.CurrentIndex != 5%2 {
		t.Fatalf("expected cursor %d, got %d", 5%2, got.CurrentIndex)
	}
	if len(got.Messages) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(got.Messages))
	}
}

func TestAdvanceAccumulatesTotals(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store, fixedFactory(&scriptClient{text: "some measured reply text"}))

	conv, _ := e.Start(context.Background(), "go", twoParticipants())
	opts := TurnOptions{APIKey: "test-key"}

	prevTokens := 0
	for i := 0; i < 3; i++ {
		if _, err := e.Advance(context.Background(), conv.ID, opts); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		got, _ := store.Get(context.Background(), conv.ID)
		if got.TotalTokens <= prevTokens {
			t.Fatalf("turn %d: expected totals to grow, got %d after %d", i, got.TotalTokens, prevTokens)
		}
		prevTokens = got.TotalTokens
	}
}

func TestAdvanceAuthErrorLeavesStateUntouched(t *testing.T) {
	store := newMemStore()
	client := &scriptClient{err: llm.NewAuthError("invalid key", nil)}
	e := newTestEngine(store, fixedFactory(client))

	conv, _ := e.Start(context.Background(), "go", twoParticipants())
	before, _ := store.Get(context.Background(), conv.ID)

	_, err := e.Advance(context.Background(), conv.ID, TurnOptions{APIKey: "bad"})
	if !llm.IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}

	after, _ := store.Get(context.Background(), conv.ID)
	if len(after.Messages) != len(before.Messages) ||
		after.CurrentIndex != before.CurrentIndex ||
		after.TotalTokens != before.TotalTokens {
		t.Fatal("failed turn must not change conversation state")
	}
}

func TestAdvanceMissingCredential(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store, fixedFactory(&scriptClient{text: "x"}))

	conv, _ := e.Start(context.Background(), "go", []Participant{
		{Provider: llm.ProviderAnthropic, Model: "claude-3-5-haiku-20241022"},
	})
	_, err := e.Advance(context.Background(), conv.ID, TurnOptions{})
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestAdvanceUnknownProvider(t *testing.T) {
	store := newMemStore()
	// Default factory consults the provider registry.
	e := NewEngine(store, EngineOptions{Logger: zerolog.Nop()})

	conv, _ := e.Start(context.Background(), "go", []Participant{
		{Provider: "made-up", Model: "m"},
	})
	_, err := e.Advance(context.Background(), conv.ID, TurnOptions{APIKey: "k"})
	var unknown *llm.UnknownProviderError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownProviderError, got %v", err)
	}

	// Without a credential the provider key is still the real problem.
	_, err = e.Advance(context.Background(), conv.ID, TurnOptions{})
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownProviderError without a credential, got %v", err)
	}
	if errors.Is(err, ErrMissingCredential) {
		t.Fatalf("unknown provider must not surface as a credential failure: %v", err)
	}
}

func TestAdvanceClosedConversation(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store, fixedFactory(&scriptClient{text: "x"}))

	conv, _ := e.Start(context.Background(), "go", twoParticipants())
	if err := e.SetStatus(context.Background(), conv.ID, StatusCompleted); err != nil {
		t.Fatalf("set status: %v", err)
	}
	_, err := e.Advance(context.Background(), conv.ID, TurnOptions{APIKey: "k"})
	if !errors.Is(err, ErrConversationClosed) {
		t.Fatalf("expected ErrConversationClosed, got %v", err)
	}
}

func TestAdvanceNotFound(t *testing.T) {
	e := newTestEngine(newMemStore(), fixedFactory(&scriptClient{}))
	_, err := e.Advance(context.Background(), "missing", TurnOptions{APIKey: "k"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAdvanceEditedLastSentButNotPersisted(t *testing.T) {
	store := newMemStore()
	client := &scriptClient{text: "reply"}
	e := newTestEngine(store, fixedFactory(client))

	conv, _ := e.Start(context.Background(), "original prompt", twoParticipants())
	_, err := e.Advance(context.Background(), conv.ID, TurnOptions{APIKey: "k", EditedLast: "edited prompt"})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}

	sent := client.seen[0]
	if sent[len(sent)-1].Content != "edited prompt" {
		t.Fatalf("expected the provider to see the edit, got %q", sent[len(sent)-1].Content)
	}
	got, _ := store.Get(context.Background(), conv.ID)
	if got.Messages[0].Content != "original prompt" {
		t.Fatalf("the stored transcript must keep the original content, got %q", got.Messages[0].Content)
	}
}

func TestAdvanceCacheHitSkipsProvider(t *testing.T) {
	store := newMemStore()
	client := &scriptClient{text: "cached reply"}
	e := NewEngine(store, EngineOptions{
		Cache:   cache.New(time.Hour, 10, zerolog.Nop()),
		Factory: fixedFactory(client),
		Retry:   reliable.RetryPolicy{MaxAttempts: 1},
		Logger:  zerolog.Nop(),
	})

	// Two conversations with identical prompts and the same participant
	// produce identical request shapes.
	participants := []Participant{{Provider: llm.ProviderAnthropic, Model: "claude-3-5-haiku-20241022", Name: "A"}}
	opts := TurnOptions{APIKey: "k"}

	first, _ := e.Start(context.Background(), "same prompt", participants)
	if _, err := e.Advance(context.Background(), first.ID, opts); err != nil {
		t.Fatalf("first advance: %v", err)
	}
	second, _ := e.Start(context.Background(), "same prompt", participants)
	res, err := e.Advance(context.Background(), second.ID, opts)
	if err != nil {
		t.Fatalf("second advance: %v", err)
	}

	if client.calls != 1 {
		t.Fatalf("expected one provider call, got %d", client.calls)
	}
	if res.Message.Content != "cached reply" {
		t.Fatalf("expected the cached reply, got %q", res.Message.Content)
	}
	if res.Message.Cost != 0 {
		t.Fatalf("cached replies must cost nothing, got %f", res.Message.Cost)
	}
	if cached, _ := res.Message.Metadata["cached"].(bool); !cached {
		t.Fatalf("expected cached metadata, got %+v", res.Message.Metadata)
	}
}

func TestAdvanceStreamEventOrder(t *testing.T) {
	store := newMemStore()
	client := &scriptClient{fragments: []string{"Hel", "lo"}}
	e := newTestEngine(store, fixedFactory(client))

	conv, _ := e.Start(context.Background(), "go", twoParticipants())
	events, err := e.AdvanceStream(context.Background(), conv.ID, TurnOptions{APIKey: "k"})
	if err != nil {
		t.Fatalf("advance stream: %v", err)
	}

	var collected []StreamEvent
	for ev := range events {
		collected = append(collected, ev)
	}

	wantTypes := []EventType{EventMetadata, EventContent, EventContent, EventDone}
	if len(collected) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d: %+v", len(wantTypes), len(collected), collected)
	}
	for i, want := range wantTypes {
		if collected[i].Type != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, collected[i].Type)
		}
	}
	if collected[0].Participant != "Alice" {
		t.Fatalf("expected Alice in metadata, got %q", collected[0].Participant)
	}
	if collected[1].Content+collected[2].Content != "Hello" {
		t.Fatalf("unexpected fragments: %+v", collected[1:3])
	}

	done := collected[len(collected)-1]
	if done.Message == nil || done.Message.Content != "Hello" {
		t.Fatalf("expected the committed message in the done event, got %+v", done.Message)
	}
	if done.Usage == nil || done.Usage.Used == 0 {
		t.Fatalf("expected usage in the done event, got %+v", done.Usage)
	}
	if done.NextParticipant != "Bob" {
		t.Fatalf("expected the done event to name Bob as next, got %q", done.NextParticipant)
	}

	got, _ := store.Get(context.Background(), conv.ID)
	if len(got.Messages) != 2 || got.Messages[1].Content != "Hello" {
		t.Fatalf("expected the assembled reply to be persisted, got %+v", got.Messages)
	}
	if got.CurrentIndex != 1 {
		t.Fatalf("expected cursor to advance after the stream, got %d", got.CurrentIndex)
	}
}

func TestAdvanceStreamErrorPersistsNothing(t *testing.T) {
	store := newMemStore()
	client := &scriptClient{err: llm.NewAuthError("nope", nil)}
	e := newTestEngine(store, fixedFactory(client))

	conv, _ := e.Start(context.Background(), "go", twoParticipants())
	events, err := e.AdvanceStream(context.Background(), conv.ID, TurnOptions{APIKey: "k"})
	if err != nil {
		t.Fatalf("advance stream: %v", err)
	}

	var last StreamEvent
	for ev := range events {
		last = ev
	}
	if last.Type != EventError || !llm.IsAuthError(last.Err) {
		t.Fatalf("expected a terminal auth error event, got %+v", last)
	}
	if last.ErrMessage == "" {
		t.Fatal("expected the error event to carry the failure text")
	}

	got, _ := store.Get(context.Background(), conv.ID)
	if len(got.Messages) != 1 || got.CurrentIndex != 0 {
		t.Fatal("a failed stream must not change conversation state")
	}
}

func TestAdvanceStreamConsumerCancelStopsProducer(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store, fixedFactory(&stallingClient{fragment: "Hel"}))

	conv, _ := e.Start(context.Background(), "go", twoParticipants())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := e.AdvanceStream(ctx, conv.ID, TurnOptions{APIKey: "k"})
	if err != nil {
		t.Fatalf("advance stream: %v", err)
	}

	if ev := <-events; ev.Type != EventMetadata {
		t.Fatalf("expected metadata first, got %+v", ev)
	}
	if ev := <-events; ev.Type != EventContent || ev.Content != "Hel" {
		t.Fatalf("expected the first fragment, got %+v", ev)
	}

	// Abandon the stream mid-reply. The producer must observe the
	// cancellation, close the channel and commit nothing.
	cancel()
	for ev := range events {
		if ev.Type == EventDone {
			t.Fatalf("abandoned stream must not complete a turn: %+v", ev)
		}
	}

	got, _ := store.Get(context.Background(), conv.ID)
	if len(got.Messages) != 1 || got.CurrentIndex != 0 || got.TotalTokens != 0 {
		t.Fatal("abandoned stream must not change conversation state")
	}
}

func TestTokenUsageGrowsWithTranscript(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store, fixedFactory(&scriptClient{text: "a somewhat longer reply to grow the transcript"}))

	conv, _ := e.Start(context.Background(), "go", twoParticipants())
	before, err := e.TokenUsage(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if _, err := e.Advance(context.Background(), conv.ID, TurnOptions{APIKey: "k"}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	after, err := e.TokenUsage(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if after.Used <= before.Used {
		t.Fatalf("expected usage to grow, got %d then %d", before.Used, after.Used)
	}
}

func TestExportRoundTrips(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store, fixedFactory(&scriptClient{text: "x"}))

	conv, _ := e.Start(context.Background(), "go", twoParticipants())
	data, err := e.Export(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected exported JSON")
	}
	for _, want := range []string{conv.ID, "participants", "initial_prompt"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("expected export to mention %q", want)
		}
	}
}
