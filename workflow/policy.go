package workflow

import (
	"math/rand/v2"
	"time"
)

// StepPolicy configures how the engine executes one step.
type StepPolicy struct {
	// RetryPolicy overrides the engine default. Use NoRetry() for
	// effectful steps that must not run twice.
	RetryPolicy *RetryPolicy

	// Timeout bounds each attempt. Zero falls back to the engine's default
	// step timeout; if that is zero too, attempts are unbounded.
	Timeout time.Duration
}

// RetryPolicy defines automatic retries for failed step attempts.
//
// A step with MaxRetries = r runs at most r+1 times. Fatal errors are never
// retried regardless of the policy.
type RetryPolicy struct {
	// MaxRetries is the number of additional attempts after the first.
	// Zero disables retries.
	MaxRetries int

	// BaseDelay is the base delay for exponential backoff between attempts.
	// Zero retries immediately.
	BaseDelay time.Duration

	// MaxDelay caps the exponential component. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides whether a non-fatal error is worth another attempt.
	// If nil, every non-fatal error is retried.
	Retryable func(error) bool
}

// NoRetry returns a policy that runs the step exactly once.
func NoRetry() *RetryPolicy {
	return &RetryPolicy{MaxRetries: 0}
}

// Validate checks the policy's constraints.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxRetries < 0 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

func (rp *RetryPolicy) retryable(err error) bool {
	if IsFatal(err) {
		return false
	}
	if rp.Retryable == nil {
		return true
	}
	return rp.Retryable(err)
}

// computeBackoff returns the delay before retry number attempt (zero-based):
//
//	delay = min(base * 2^attempt, maxDelay) + jitter(0, base)
//
// Example delays with base=1s, maxDelay=30s:
//   - attempt 0: 1-2s
//   - attempt 1: 2-3s
//   - attempt 10: 30-31s (capped)
func computeBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}

	exponentialDelay := base * (1 << attempt)
	if maxDelay > 0 && (exponentialDelay > maxDelay || exponentialDelay <= 0) {
		exponentialDelay = maxDelay
	}

	jitter := time.Duration(rand.Int64N(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	return exponentialDelay + jitter
}
