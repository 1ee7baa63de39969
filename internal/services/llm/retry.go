// Package llm wraps the Claude chat model with native tool calling for the
// agent's bounded tool-call loop (spec.md §4.5). retry.go is adapted from
// the teacher's gemini_retry.go: same backoff shape, retargeted at
// Anthropic's overloaded/rate-limit error strings instead of Gemini's.
package llm

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RetryConfig defines retry behavior for transient Claude API failures.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int

	// InitialBackoff is the wait time before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration

	// BackoffMultiplier is applied to the backoff on each subsequent retry.
	BackoffMultiplier float64
}

// Default retry constants for the Claude API.
const (
	DefaultMaxRetries        = 4
	DefaultInitialBackoff    = 2 * time.Second
	DefaultMaxBackoff        = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// NewDefaultRetryConfig returns a RetryConfig with sensible defaults for
// handling Claude API rate limits and transient overload errors.
func NewDefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        DefaultMaxRetries,
		InitialBackoff:    DefaultInitialBackoff,
		MaxBackoff:        DefaultMaxBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

// IsRateLimitError reports whether err looks like a Claude rate-limit or
// transient-overload error worth retrying.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate_limit_error") ||
		strings.Contains(errStr, "overloaded_error") ||
		strings.Contains(errStr, "529")
}

// retryDelayRegex matches "retry after Xs" or "retry-after: X" patterns
// occasionally present in Claude error bodies.
var retryDelayRegex = regexp.MustCompile(`(?i)(?:retry.after[:\s]+)(\d+(?:\.\d+)?)\s*s?`)

// ExtractRetryDelay parses an API-suggested retry delay from err. Returns 0
// if none is present.
func ExtractRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}
	matches := retryDelayRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}
	seconds, parseErr := strconv.ParseFloat(matches[1], 64)
	if parseErr != nil {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// CalculateBackoff computes the backoff duration for a given attempt. If
// apiDelay > 0 it is used as the base (plus a small buffer); otherwise
// InitialBackoff is used. The result is capped at MaxBackoff.
func (c *RetryConfig) CalculateBackoff(attempt int, apiDelay time.Duration) time.Duration {
	base := c.InitialBackoff
	if apiDelay > 0 {
		base = apiDelay + time.Second
	}

	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= c.BackoffMultiplier
	}

	backoff := time.Duration(float64(base) * multiplier)
	if backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}
	return backoff
}
