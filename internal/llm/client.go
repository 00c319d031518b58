package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TextGenerator wraps a single call to an external text-generation provider.
// Retry policy is owned by the caller, not the client.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)

	// Model names the underlying model, recorded on cache entries.
	Model() string
}

// ErrBlockedBySafety means the provider flagged the content and withheld
// output. Terminal: never retried.
var ErrBlockedBySafety = errors.New("generation blocked by provider safety filters")

// RateLimitError is a provider rejection carrying an explicit suggested
// wait. Waiting it out is queuing, not a failed attempt, so it does not
// consume retry budget.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider rate limited, retry after %s", e.RetryAfter)
}

// ProviderError is a transient provider failure (timeout, 429 without a
// suggested wait, 5xx, network). Retryable with backoff.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return "provider error: " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
