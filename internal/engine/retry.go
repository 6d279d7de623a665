package engine

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/ChamsBouzaiene/reagent/internal/model"
)

// RetryPolicy defines backoff behavior for reasoning-provider calls.
type RetryPolicy struct {
	MaxRetries   int           // retry attempts after the first call (0 = no retries)
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // delay cap
	Multiplier   float64       // exponential backoff multiplier
	Jitter       bool          // add 0-20% random variation to each delay
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// RetryClass partitions errors by retryability.
type RetryClass int

const (
	RetryClassRetryable RetryClass = iota
	RetryClassNonRetryable
)

// classifyProviderError decides whether a provider failure is worth another
// attempt. Malformed output is deterministic on our side of the wire and is
// handled by feeding it back to the model, not by re-asking verbatim.
func classifyProviderError(err error) RetryClass {
	var malformed *model.MalformedActionError
	switch {
	case errors.As(err, &malformed):
		return RetryClassNonRetryable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return RetryClassNonRetryable
	default:
		return RetryClassRetryable
	}
}

// retryWithPolicy executes fn with exponential backoff. Returns the last
// error wrapped in ProviderUnavailableError once attempts are exhausted.
func retryWithPolicy[T any](
	ctx context.Context,
	policy RetryPolicy,
	fn func(ctx context.Context) (T, error),
	onRetry func(attempt int, delay time.Duration, err error),
) (T, error) {
	var zero T
	attempt := 0
	for {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if classifyProviderError(err) == RetryClassNonRetryable {
			return zero, err
		}
		if attempt >= policy.MaxRetries {
			return zero, &ProviderUnavailableError{Attempts: attempt + 1, Err: err}
		}

		delay := backoffDelay(policy, attempt)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		attempt++
	}
}

func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attempt))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	if policy.Jitter {
		delay += rand.Float64() * 0.2 * delay
	}
	return time.Duration(delay)
}
