// Package reliable wraps provider calls with retry and rate limiting as
// explicit composition: a Caller aggregates a RetryPolicy and a RateLimiter
// and decorates any llm.Client call site. Instances have explicit lifetimes
// so tests can construct isolated ones; nothing here is process-wide.
package reliable

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/TrialBlazer23/ai-conversation-platform/llm"
)

const (
	// DefaultMaxAttempts is the total number of invocations before the last
	// error propagates unchanged.
	DefaultMaxAttempts = 3
	// DefaultInitialDelay is the first backoff interval.
	DefaultInitialDelay = 1 * time.Second
	// DefaultMaxDelay caps the backoff interval.
	DefaultMaxDelay = 60 * time.Second
	// DefaultMultiplier is the exponential backoff multiplier.
	DefaultMultiplier = 2.0
)

// RetryPolicy describes the exponential backoff schedule:
// delay = min(InitialDelay * Multiplier^attempt, MaxDelay).
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy returns the standard schedule.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = DefaultMultiplier
	}
	return p
}

func (p RetryPolicy) backOff() backoff.BackOff {
	p = p.normalized()
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialDelay
	eb.MaxInterval = p.MaxDelay
	eb.Multiplier = p.Multiplier
	// Deterministic schedule, no jitter.
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1))
}

// RateLimiter enforces a minimum interval between calls computed from a
// calls-per-minute budget. State is per-instance; one limiter throttles one
// adapter instance.
type RateLimiter struct {
	minInterval time.Duration
	mu          sync.Mutex
	last        time.Time
}

// NewRateLimiter builds a limiter from a calls-per-minute budget.
// A budget of zero or less disables throttling.
func NewRateLimiter(callsPerMinute int) *RateLimiter {
	l := &RateLimiter{}
	if callsPerMinute > 0 {
		l.minInterval = time.Minute / time.Duration(callsPerMinute)
	}
	return l
}

// Wait blocks until the minimum interval since the previous call has
// elapsed, or the context is done.
func (l *RateLimiter) Wait(ctx context.Context) error {
	if l == nil || l.minInterval <= 0 {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	sleep := l.minInterval - now.Sub(l.last)
	if sleep < 0 {
		sleep = 0
	}
	// Reserve the slot before sleeping so concurrent callers queue up
	// behind each other instead of sharing one interval.
	l.last = now.Add(sleep)
	l.mu.Unlock()

	if sleep == 0 {
		return nil
	}

	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Caller decorates llm.Client calls with throttling and retry. Only
// retryable errors (rate-limit, transient) are retried; auth and protocol
// errors propagate immediately.
type Caller struct {
	policy  RetryPolicy
	limiter *RateLimiter
	logger  zerolog.Logger
}

// NewCaller creates a Caller. A nil limiter disables throttling.
func NewCaller(policy RetryPolicy, limiter *RateLimiter, logger zerolog.Logger) *Caller {
	return &Caller{
		policy:  policy.normalized(),
		limiter: limiter,
		logger:  logger.With().Str("component", "reliable").Logger(),
	}
}

// Generate invokes client.Generate with throttling and retry.
func (c *Caller) Generate(ctx context.Context, client llm.Client, messages []llm.Message) (string, error) {
	var out string
	err := c.retry(ctx, func() error {
		text, err := client.Generate(ctx, messages)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	return out, err
}

// Stream invokes client.GenerateStream with throttling and retry applied to
// stream initiation only. Mid-stream failures are surfaced by the returned
// stream, never retried: retrying would duplicate already-yielded fragments.
func (c *Caller) Stream(ctx context.Context, client llm.Client, messages []llm.Message) (llm.Stream, error) {
	var out llm.Stream
	err := c.retry(ctx, func() error {
		stream, err := client.GenerateStream(ctx, messages)
		if err != nil {
			return err
		}
		out = stream
		return nil
	})
	return out, err
}

func (c *Caller) retry(ctx context.Context, op func() error) error {
	attempt := 0
	wrapped := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !llm.IsRetryableError(err) {
			return backoff.Permanent(err)
		}
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", c.policy.MaxAttempts).
			Msg("Retryable provider error")
		return err
	}
	return backoff.Retry(wrapped, backoff.WithContext(c.policy.backOff(), ctx))
}
