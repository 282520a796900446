// Package config loads application configuration from YAML, merging user
// values over built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// OllamaConfig represents configuration for the Ollama provider.
type OllamaConfig struct {
	Host string `yaml:"host,omitempty"` // Ollama host (default: "http://localhost:11434")
}

// OpenAIConfig represents configuration for the OpenAI provider.
type OpenAIConfig struct {
	BaseURL      string `yaml:"base_url,omitempty"`     // Custom base URL (default: official API)
	Organization string `yaml:"organization,omitempty"` // Organization ID
}

// GeminiConfig represents configuration for the Google Gemini provider.
type GeminiConfig struct {
	BaseURL string `yaml:"base_url,omitempty"` // Custom base URL (default: official API)
}

// RetryConfig controls the backoff schedule for provider calls.
type RetryConfig struct {
	MaxAttempts  int     `yaml:"max_attempts,omitempty"`  // Total attempts including the first
	InitialDelay int     `yaml:"initial_delay,omitempty"` // Seconds before the first retry
	MaxDelay     int     `yaml:"max_delay,omitempty"`     // Cap on the delay in seconds
	Multiplier   float64 `yaml:"multiplier,omitempty"`    // Backoff growth factor
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Disabled bool `yaml:"disabled,omitempty"` // Disable response caching (enabled by default)
	TTL      int  `yaml:"ttl,omitempty"`      // Entry lifetime in seconds
	MaxSize  int  `yaml:"max_size,omitempty"` // Entry cap
}

// ParticipantConfig describes one conversation participant.
type ParticipantConfig struct {
	Provider     string  `yaml:"provider"`                // "anthropic", "openai", "gemini" or "ollama"
	Model        string  `yaml:"model"`                   // Model identifier
	Name         string  `yaml:"name,omitempty"`          // Display name (default: the model)
	Temperature  float64 `yaml:"temperature,omitempty"`   // Sampling temperature
	SystemPrompt string  `yaml:"system_prompt,omitempty"` // Per-participant system prompt
}

// Config is the full application configuration.
type Config struct {
	DBPath  string `yaml:"db_path,omitempty"`  // SQLite database path
	LogFile string `yaml:"log_file,omitempty"` // Log file path (empty = stdout)
	Pretty  bool   `yaml:"pretty,omitempty"`   // Human-readable console logs

	RequestTimeout int `yaml:"request_timeout,omitempty"`  // Provider call timeout in seconds
	CallsPerMinute int `yaml:"calls_per_minute,omitempty"` // Provider call budget (0 = unthrottled)

	Retry RetryConfig `yaml:"retry,omitempty"`
	Cache CacheConfig `yaml:"cache,omitempty"`

	Ollama OllamaConfig `yaml:"ollama,omitempty"`
	OpenAI OpenAIConfig `yaml:"openai,omitempty"`
	Gemini GeminiConfig `yaml:"gemini,omitempty"`

	Participants []ParticipantConfig `yaml:"participants,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		DBPath:         "convo.db",
		RequestTimeout: 120,
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 1,
			MaxDelay:     60,
			Multiplier:   2,
		},
		Cache: CacheConfig{
			TTL:     3600,
			MaxSize: 100,
		},
		Ollama: OllamaConfig{
			Host: "http://localhost:11434",
		},
	}
}

// Load reads the config file at path and merges it over the defaults. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	expandedPath := expandPath(path)
	data, err := os.ReadFile(expandedPath) //nolint:gosec // G304: User-specified config path is intentional
	if os.IsNotExist(err) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", expandedPath, err)
	}

	var fileConfig Config
	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", expandedPath, err)
	}

	// File values take precedence over defaults.
	if err := mergo.Merge(&cfg, fileConfig, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}
	return &cfg, nil
}

// DefaultPath returns the default config file path. Can be overridden via
// the CONVO_CONFIG_PATH environment variable.
func DefaultPath() string {
	if envPath := os.Getenv("CONVO_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.convo/config.yaml"
	}
	return filepath.Join(homeDir, ".convo", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
