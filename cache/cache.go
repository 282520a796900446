// Package cache provides an in-memory TTL cache for model responses keyed
// by the full request shape, so identical prompts do not pay for a second
// round trip to a provider.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TrialBlazer23/ai-conversation-platform/llm"
)

const (
	// DefaultTTL is how long a cached response stays valid.
	DefaultTTL = time.Hour
	// DefaultMaxSize is the default entry cap.
	DefaultMaxSize = 100
)

type entry struct {
	response string
	storedAt time.Time
}

// ResponseCache is a size-bounded TTL cache. When full, inserting a new
// key evicts the single oldest entry by write time.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	maxSize int
	hits    int
	misses  int
	logger  zerolog.Logger

	now func() time.Time
}

// New builds a ResponseCache. Non-positive ttl or maxSize fall back to the
// defaults.
func New(ttl time.Duration, maxSize int, logger zerolog.Logger) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &ResponseCache{
		entries: make(map[string]entry),
		ttl:     ttl,
		maxSize: maxSize,
		logger:  logger,
		now:     time.Now,
	}
}

// keyPayload is the canonical request shape hashed into a cache key.
// Temperature is rounded to two decimals so float jitter does not split
// otherwise identical requests.
type keyPayload struct {
	Provider    string        `json:"provider"`
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature float64       `json:"temperature"`
}

// Key derives the cache key for a request.
func Key(provider, model string, messages []llm.Message, temperature float64) string {
	payload := keyPayload{
		Provider:    provider,
		Model:       model,
		Messages:    messages,
		Temperature: math.Round(temperature*100) / 100,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// Only unmarshalable types reach this branch, and the payload
		// holds none.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached response for a key, if present and not expired.
func (c *ResponseCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return "", false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		c.misses++
		return "", false
	}
	c.hits++
	c.logger.Debug().Str("key", key).Msg("cache hit")
	return e.response, true
}

// Set stores a response. Inserting a new key into a full cache evicts the
// oldest entry.
func (c *ResponseCache) Set(key, response string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = entry{response: response, storedAt: c.now()}
}

// evictOldest removes the entry with the earliest write time. Caller must
// hold the lock.
func (c *ResponseCache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for key, e := range c.entries {
		if oldestKey == "" || e.storedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.storedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.logger.Debug().Str("key", oldestKey).Msg("evicted oldest cache entry")
	}
}

// Clear removes all entries and resets hit and miss counters.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	c.hits = 0
	c.misses = 0
}

// Stats describes cache occupancy and effectiveness.
type Stats struct {
	Entries int     `json:"entries"`
	MaxSize int     `json:"max_size"`
	Hits    int     `json:"hits"`
	Misses  int     `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns a snapshot of cache statistics.
func (c *ResponseCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Entries: len(c.entries),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
