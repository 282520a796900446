package llm

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Provider keys understood by the default registry. Adapter packages
// register themselves under these names from their init functions, so a
// blank import of the adapter package is enough to make a backend available.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// Options carries everything needed to construct a provider client for a
// single turn. Credentials are caller-supplied and never stored beyond the
// client instance built from them.
type Options struct {
	APIKey       string
	Model        string
	Temperature  float64
	SystemPrompt string
	MaxTokens    int64

	// Host is used by local-inference backends (Ollama).
	Host string
	// BaseURL overrides the API endpoint for OpenAI-compatible backends.
	BaseURL string
	// Organization is an OpenAI organization ID.
	Organization string

	Timeout time.Duration
	Logger  zerolog.Logger
}

// Constructor builds a Client from Options.
type Constructor func(opts Options) (Client, error)

// Registration describes one backend in the provider registry.
type Registration struct {
	New Constructor
	// RequiresCredential reports whether the backend needs an API key.
	RequiresCredential bool
}

// UnknownProviderError is returned when a provider key has no registration.
type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider: %s", e.Provider)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register adds a backend to the provider registry. It panics on duplicate
// registration, which indicates conflicting adapter packages.
func Register(name string, reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("llm: provider %q registered twice", name))
	}
	if reg.New == nil {
		panic(fmt.Sprintf("llm: provider %q registered with nil constructor", name))
	}
	registry[name] = reg
}

// New constructs a client for the named provider.
func New(provider string, opts Options) (Client, error) {
	registryMu.RLock()
	reg, ok := registry[provider]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownProviderError{Provider: provider}
	}
	return reg.New(opts)
}

// RequiresCredential reports whether the named provider needs an API key.
// Unknown providers return an UnknownProviderError, so callers can surface
// the bad provider key instead of a misleading credential failure.
func RequiresCredential(provider string) (bool, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[provider]
	if !ok {
		return false, &UnknownProviderError{Provider: provider}
	}
	return reg.RequiresCredential, nil
}

// Providers returns the sorted list of registered provider keys.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
