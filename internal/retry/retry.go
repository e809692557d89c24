// Package retry provides retry with exponential backoff for transient
// classification-service failures, with separate handling for rate-limit
// responses.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrMaxAttemptsExceeded is returned when max retry attempts are exceeded.
	ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")
	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled during retry")
)

// Kind classifies a failure for retry purposes.
type Kind int

const (
	// Terminal errors are never retried.
	Terminal Kind = iota
	// Retryable errors retry with exponential backoff and consume an attempt.
	Retryable
	// RateLimited errors wait the server-specified delay and do NOT consume
	// an attempt: waiting out a throttle is not a failed try.
	RateLimited
)

// Classifier maps an error to its retry Kind and, for RateLimited, the delay
// the server asked for (zero means use the default rate-limit delay).
type Classifier func(err error) (Kind, time.Duration)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the delay before the first backoff retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// Multiplier is the exponential backoff multiplier.
	Multiplier float64
	// RateLimitDelay is used when a rate-limit response carries no delay hint.
	RateLimitDelay time.Duration
	// Classify maps errors to retry kinds. Defaults to DefaultClassifier.
	Classify Classifier
}

// DefaultConfig returns a retry configuration suitable for the
// classification service.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    4,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		RateLimitDelay: 3 * time.Second,
	}
}

// DefaultClassifier treats network-shaped errors as retryable and everything
// else as terminal. Transport packages install their own classifier that
// recognizes typed rate-limit and server errors.
func DefaultClassifier(err error) (Kind, time.Duration) {
	if err == nil {
		return Terminal, 0
	}
	patterns := []string{
		"timeout",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"no such host",
		"temporary failure",
		"network is unreachable",
		"i/o timeout",
	}
	msg := err.Error()
	for _, p := range patterns {
		if containsFold(msg, p) {
			return Retryable, 0
		}
	}
	return Terminal, 0
}

func containsFold(s, substr string) bool {
	if len(s) < len(substr) {
		return false
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if equalFold(s[i:i+len(substr)], substr) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Do executes fn with retry. Backoff grows exponentially per consumed
// attempt; rate-limit waits honor the server's delay hint and leave the
// attempt budget untouched.
func Do(ctx context.Context, config Config, fn func() error) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 4
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 500 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.RateLimitDelay <= 0 {
		config.RateLimitDelay = 3 * time.Second
	}
	if config.Classify == nil {
		config.Classify = DefaultClassifier
	}

	// Rate-limit waits do not consume attempts, so bound them separately to
	// keep a permanently throttled endpoint from spinning forever.
	maxRateLimitWaits := config.MaxAttempts * 3

	var lastErr error
	attempt := 1
	rateLimitWaits := 0

	for attempt <= config.MaxAttempts {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		kind, hint := config.Classify(err)
		switch kind {
		case Terminal:
			return err

		case RateLimited:
			rateLimitWaits++
			if rateLimitWaits > maxRateLimitWaits {
				return fmt.Errorf("%w after %d rate-limit waits: %w",
					ErrMaxAttemptsExceeded, rateLimitWaits-1, lastErr)
			}
			delay := hint
			if delay <= 0 {
				delay = config.RateLimitDelay
			}
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
			if err := wait(ctx, delay); err != nil {
				return err
			}
			// Attempt budget untouched.

		case Retryable:
			if attempt == config.MaxAttempts {
				return fmt.Errorf("%w after %d attempts: %w",
					ErrMaxAttemptsExceeded, config.MaxAttempts, lastErr)
			}
			delay := time.Duration(float64(config.InitialDelay) *
				math.Pow(config.Multiplier, float64(attempt-1)))
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
			if err := wait(ctx, delay); err != nil {
				return err
			}
			attempt++
		}
	}

	return fmt.Errorf("%w after %d attempts: %w",
		ErrMaxAttemptsExceeded, config.MaxAttempts, lastErr)
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	case <-t.C:
		return nil
	}
}
