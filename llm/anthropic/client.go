// Package anthropic adapts the Anthropic Messages API to the llm.Client
// contract. System instructions are passed in the top-level system field,
// never as an in-band message.
package anthropic

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/TrialBlazer23/ai-conversation-platform/llm"
)

const defaultMaxTokens = 4096

func init() {
	llm.Register(llm.ProviderAnthropic, llm.Registration{
		New:                New,
		RequiresCredential: true,
	})
}

// Client implements the llm.Client interface for Anthropic's API.
type Client struct {
	api         *anthropic.Client
	model       string
	temperature float64
	system      string
	maxTokens   int64
	logger      zerolog.Logger
}

// New creates an Anthropic client from the given options.
func New(opts llm.Options) (llm.Client, error) {
	if opts.APIKey == "" {
		return nil, llm.NewAuthError("anthropic api key is required", nil)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}

	api := anthropic.NewClient(reqOpts...)

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Client{
		api:         &api,
		model:       opts.Model,
		temperature: opts.Temperature,
		system:      opts.SystemPrompt,
		maxTokens:   maxTokens,
		logger:      opts.Logger,
	}, nil
}

func (c *Client) params(messages []llm.Message) anthropic.MessageNewParams {
	system, rest := splitSystem(c.system, messages)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Messages:    toMessageParams(rest),
		Temperature: anthropic.Float(c.temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

// Generate implements llm.Client.Generate.
func (c *Client) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	message, err := c.api.Messages.New(ctx, c.params(messages))
	if err != nil {
		return "", convertError(err)
	}

	var text strings.Builder
	for _, blockUnion := range message.Content {
		if block, ok := blockUnion.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", llm.NewProtocolError("no text content in anthropic response", nil)
	}

	c.logger.Debug().
		Int64("input_tokens", message.Usage.InputTokens).
		Int64("output_tokens", message.Usage.OutputTokens).
		Msg("Anthropic response received")

	return text.String(), nil
}

// GenerateStream implements llm.Client.GenerateStream.
func (c *Client) GenerateStream(ctx context.Context, messages []llm.Message) (llm.Stream, error) {
	stream := c.api.Messages.NewStreaming(ctx, c.params(messages))
	if err := stream.Err(); err != nil {
		return nil, convertError(err)
	}
	return &textStream{inner: stream}, nil
}

// convertError maps Anthropic SDK errors onto the shared taxonomy.
func convertError(err error) error {
	if err == nil {
		return nil
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden:
			return llm.NewAuthError("anthropic authentication failed", err)
		case apierr.StatusCode == http.StatusTooManyRequests:
			return llm.NewRateLimitError("anthropic rate limit exceeded", retryAfter(apierr.Response), err)
		case apierr.StatusCode == http.StatusRequestTimeout || apierr.StatusCode >= 500:
			return llm.NewTransientError("anthropic request failed", err)
		default:
			return llm.NewProtocolError("anthropic rejected the request", err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return llm.NewTransientError("anthropic network failure", err)
	}

	return llm.NewProtocolError("unexpected anthropic error", err)
}

func retryAfter(resp *http.Response) *time.Duration {
	if resp == nil {
		return nil
	}
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return nil
	}
	seconds, err := strconv.Atoi(header)
	if err != nil {
		return nil
	}
	d := time.Duration(seconds) * time.Second
	return &d
}
