// Package ollama adapts a local Ollama runtime to the llm.Client contract.
// Ollama needs no credential; it is reached over a configurable host URL.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/TrialBlazer23/ai-conversation-platform/llm"
)

// listTimeout bounds the fail-soft model enumeration call.
const listTimeout = 5 * time.Second

func init() {
	llm.Register(llm.ProviderOllama, llm.Registration{
		New: New,
	})
}

// Client implements the llm.Client interface for Ollama's API.
type Client struct {
	api         *api.Client
	model       string
	temperature float64
	system      string
	logger      zerolog.Logger
}

// New creates an Ollama client from the given options. If no host is
// configured the client falls back to the OLLAMA_HOST environment or the
// default localhost port.
func New(opts llm.Options) (llm.Client, error) {
	apiClient, err := newAPIClient(opts.Host, opts.Timeout)
	if err != nil {
		return nil, err
	}
	return &Client{
		api:         apiClient,
		model:       opts.Model,
		temperature: opts.Temperature,
		system:      opts.SystemPrompt,
		logger:      opts.Logger,
	}, nil
}

func newAPIClient(host string, timeout time.Duration) (*api.Client, error) {
	httpClient := &http.Client{}
	if timeout > 0 {
		httpClient.Timeout = timeout
	}

	if host == "" {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, llm.NewConnectionUnavailableError("failed to create ollama client", err)
		}
		return client, nil
	}

	baseURL, err := parseHost(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host: %w", err)
	}
	return api.NewClient(baseURL, httpClient), nil
}

// parseHost parses a host string into a URL, defaulting the scheme to http.
func parseHost(host string) (*url.URL, error) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

func (c *Client) chatRequest(messages []llm.Message, stream bool) *api.ChatRequest {
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: toChatMessages(c.system, messages),
		Stream:   &stream,
		Options: map[string]any{
			"temperature": c.temperature,
		},
	}
	return req
}

// Generate implements llm.Client.Generate.
func (c *Client) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	var text strings.Builder
	err := c.api.Chat(ctx, c.chatRequest(messages, false), func(resp api.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", convertError(err)
	}
	return text.String(), nil
}

// GenerateStream implements llm.Client.GenerateStream.
func (c *Client) GenerateStream(ctx context.Context, messages []llm.Message) (llm.Stream, error) {
	return newChatStream(ctx, c.api, c.chatRequest(messages, true)), nil
}

// ListModels enumerates the models currently available in the local runtime.
// It fails soft: when the service is unreachable it returns an empty list
// rather than an error.
func ListModels(ctx context.Context, host string, logger zerolog.Logger) []string {
	apiClient, err := newAPIClient(host, listTimeout)
	if err != nil {
		logger.Debug().Err(err).Msg("Ollama model listing skipped")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	resp, err := apiClient.List(ctx)
	if err != nil {
		logger.Debug().Err(err).Msg("Ollama unreachable for model listing")
		return nil
	}
	return lo.Map(resp.Models, func(m api.ListModelResponse, _ int) string {
		return m.Name
	})
}

// convertError maps Ollama API errors onto the shared taxonomy. A refused
// connection means the local service is down.
func convertError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return llm.NewConnectionUnavailableError(
			"cannot connect to ollama; make sure it is running (ollama serve)", err)
	}

	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return llm.NewRateLimitError("ollama is overloaded", nil, err)
		case statusErr.StatusCode >= 500:
			return llm.NewTransientError("ollama request failed", err)
		default:
			return llm.NewProtocolError("ollama rejected the request", err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return llm.NewTransientError("ollama request timed out", err)
	}

	return llm.NewTransientError("ollama request failed", err)
}
