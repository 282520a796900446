package gemini

import (
	"io"
	"strings"
	"testing"

	"github.com/TrialBlazer23/ai-conversation-platform/llm"
)

func TestToContentsRoleMapping(t *testing.T) {
	contents := toContents([]llm.Message{
		{Role: llm.RoleUser, Content: "question"},
		{Role: llm.RoleAssistant, Content: "answer"},
		{Role: llm.RoleSystem, Content: "instruction"},
	})

	if len(contents) != 3 {
		t.Fatalf("Expected 3 contents, got %d", len(contents))
	}
	if contents[0].Role != "user" {
		t.Errorf("Expected role user, got %q", contents[0].Role)
	}
	if contents[1].Role != "model" {
		t.Errorf("Expected assistant to map to model, got %q", contents[1].Role)
	}
	if contents[2].Role != "user" {
		t.Errorf("Expected in-band system to demote to user, got %q", contents[2].Role)
	}
	if contents[1].Parts[0].Text != "answer" {
		t.Errorf("Content text not preserved: %q", contents[1].Parts[0].Text)
	}
}

func TestSystemInstructionPlacement(t *testing.T) {
	c := &Client{system: "be concise", temperature: 0.3}
	req := c.buildRequest([]llm.Message{{Role: llm.RoleUser, Content: "hi"}})

	if req.SystemInstruction == nil {
		t.Fatal("Expected systemInstruction to be set")
	}
	if req.SystemInstruction.Parts[0].Text != "be concise" {
		t.Errorf("Unexpected system instruction: %q", req.SystemInstruction.Parts[0].Text)
	}
	if req.GenerationConfig.Temperature != 0.3 {
		t.Errorf("Expected temperature 0.3, got %v", req.GenerationConfig.Temperature)
	}
}

func TestSSEStreamReassembly(t *testing.T) {
	payload := strings.Join([]string{
		`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]}}]}`,
		``,
		`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]}}]}`,
		``,
	}, "\n")

	stream := newSSEStream(io.NopCloser(strings.NewReader(payload)))
	defer stream.Close()

	var fragments []string
	for stream.Next() {
		fragments = append(fragments, stream.Text())
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("Unexpected stream error: %v", err)
	}
	if strings.Join(fragments, "") != "Hello" {
		t.Errorf("Expected fragments to reassemble to Hello, got %v", fragments)
	}
}

func TestSSEStreamMalformedChunk(t *testing.T) {
	stream := newSSEStream(io.NopCloser(strings.NewReader("data: {not json}\n")))
	defer stream.Close()

	if stream.Next() {
		t.Fatal("Expected no fragment from malformed chunk")
	}
	if !llm.IsProtocolError(stream.Err()) {
		t.Errorf("Expected protocol error, got %v", stream.Err())
	}
}

func TestConvertStatusError(t *testing.T) {
	if !llm.IsAuthError(convertStatusError(401, nil)) {
		t.Error("Expected 401 to map to auth error")
	}
	if !llm.IsRateLimitError(convertStatusError(429, nil)) {
		t.Error("Expected 429 to map to rate limit error")
	}
	if !llm.IsRetryableError(convertStatusError(503, nil)) {
		t.Error("Expected 503 to map to a retryable error")
	}
	if !llm.IsProtocolError(convertStatusError(400, []byte(`{"error":{"code":400,"message":"bad field"}}`))) {
		t.Error("Expected 400 to map to protocol error")
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(llm.Options{Model: "gemini-1.5-flash"})
	if !llm.IsAuthError(err) {
		t.Fatalf("Expected auth error for missing key, got %v", err)
	}
}
