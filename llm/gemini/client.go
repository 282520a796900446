// Package gemini adapts the Google Generative Language API to the llm.Client
// contract. The wire client is hand-rolled: requests go to the REST
// generateContent endpoints and streaming responses arrive as server-sent
// events. Gemini uses "model" where the canonical vocabulary says
// "assistant", and takes the system instruction as a separate field.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/TrialBlazer23/ai-conversation-platform/llm"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

func init() {
	llm.Register(llm.ProviderGemini, llm.Registration{
		New:                New,
		RequiresCredential: true,
	})
}

// Client implements the llm.Client interface for the Gemini API.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	system      string
	logger      zerolog.Logger
}

// New creates a Gemini client from the given options.
func New(opts llm.Options) (llm.Client, error) {
	if opts.APIKey == "" {
		return nil, llm.NewAuthError("gemini api key is required", nil)
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := &http.Client{}
	if opts.Timeout > 0 {
		httpClient.Timeout = opts.Timeout
	}

	return &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      opts.APIKey,
		model:       opts.Model,
		temperature: opts.Temperature,
		system:      opts.SystemPrompt,
		logger:      opts.Logger,
	}, nil
}

// Wire types for the generateContent request/response bodies.

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (c *Client) buildRequest(messages []llm.Message) generateRequest {
	req := generateRequest{
		Contents:         toContents(messages),
		GenerationConfig: &generationConfig{Temperature: c.temperature},
	}
	if c.system != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: c.system}}}
	}
	return req
}

func (c *Client) post(ctx context.Context, endpoint string, body generateRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewProtocolError("failed to encode gemini request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, llm.NewProtocolError("failed to build gemini request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, convertTransportError(err)
	}
	return resp, nil
}

// Generate implements llm.Client.Generate.
func (c *Client) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)

	resp, err := c.post(ctx, endpoint, c.buildRequest(messages))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", llm.NewTransientError("failed to read gemini response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", convertStatusError(resp.StatusCode, body)
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", llm.NewProtocolError("malformed gemini response", err)
	}

	text := candidateText(parsed)
	if text == "" {
		return "", llm.NewProtocolError("no text content in gemini response", nil)
	}
	return text, nil
}

// GenerateStream implements llm.Client.GenerateStream.
func (c *Client) GenerateStream(ctx context.Context, messages []llm.Message) (llm.Stream, error) {
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", c.baseURL, c.model)

	resp, err := c.post(ctx, endpoint, c.buildRequest(messages))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, convertStatusError(resp.StatusCode, body)
	}

	return newSSEStream(resp.Body), nil
}

func candidateText(resp generateResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return text.String()
}

func convertStatusError(status int, body []byte) error {
	var parsed generateResponse
	message := fmt.Sprintf("gemini returned status %d", status)
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		message = fmt.Sprintf("gemini: %s", parsed.Error.Message)
	}

	cause := errors.New(message)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return llm.NewAuthError("gemini authentication failed", cause)
	case status == http.StatusTooManyRequests:
		retryAfter := 60 * time.Second
		return llm.NewRateLimitError("gemini rate limit exceeded", &retryAfter, cause)
	case status == http.StatusRequestTimeout || status >= 500:
		return llm.NewTransientError("gemini request failed", cause)
	default:
		return llm.NewProtocolError("gemini rejected the request", cause)
	}
}

func convertTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return llm.NewTransientError("gemini network failure", err)
	}
	return llm.NewTransientError("gemini request failed to send", err)
}
