// Package openai adapts OpenAI-style chat completion APIs to the llm.Client
// contract. A custom base URL makes it serve any OpenAI-compatible backend.
package openai

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/TrialBlazer23/ai-conversation-platform/llm"
)

func init() {
	llm.Register(llm.ProviderOpenAI, llm.Registration{
		New:                New,
		RequiresCredential: true,
	})
}

// Client implements the llm.Client interface for OpenAI's API.
type Client struct {
	api         *openai.Client
	model       string
	temperature float64
	system      string
	maxTokens   int
}

// New creates an OpenAI client from the given options.
func New(opts llm.Options) (llm.Client, error) {
	if opts.APIKey == "" {
		return nil, llm.NewAuthError("openai api key is required", nil)
	}

	config := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}
	if opts.Organization != "" {
		config.OrgID = opts.Organization
	}
	if opts.Timeout > 0 {
		config.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		api:         openai.NewClientWithConfig(config),
		model:       opts.Model,
		temperature: opts.Temperature,
		system:      opts.SystemPrompt,
		maxTokens:   int(opts.MaxTokens),
	}, nil
}

func (c *Client) request(messages []llm.Message, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toChatMessages(c.system, messages),
		Temperature: float32(c.temperature),
		MaxTokens:   c.maxTokens,
		Stream:      stream,
	}
}

// Generate implements llm.Client.Generate.
func (c *Client) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, c.request(messages, false))
	if err != nil {
		return "", convertError(err)
	}
	if len(resp.Choices) == 0 {
		return "", llm.NewProtocolError("no choices in openai response", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream implements llm.Client.GenerateStream.
func (c *Client) GenerateStream(ctx context.Context, messages []llm.Message) (llm.Stream, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, c.request(messages, true))
	if err != nil {
		return nil, convertError(err)
	}
	return &textStream{inner: stream}, nil
}

// convertError maps go-openai errors onto the shared taxonomy.
func convertError(err error) error {
	if err == nil {
		return nil
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return llm.NewAuthError("openai authentication failed", err)
	case status == http.StatusTooManyRequests:
		retryAfter := 60 * time.Second
		return llm.NewRateLimitError("openai rate limit exceeded", &retryAfter, err)
	case status == http.StatusRequestTimeout || status >= 500:
		return llm.NewTransientError("openai request failed", err)
	case status != 0:
		return llm.NewProtocolError("openai rejected the request", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return llm.NewTransientError("openai network failure", err)
	}

	return llm.NewProtocolError("unexpected openai error", err)
}
