// Package retry implements the step-level retry manager (exponential
// backoff with caps) and circuit breaker (closed/open/half-open) from
// teacher's
// own shouldFailover function in pkg/llm/failover.go, generalized from
// "should we fail over to another provider" to "should we retry this
// step" against the engine's own error taxonomy.
package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	flowerrors "github.com/flowengine/flowengine/pkg/errors"
)

// Policy is a step's retry configuration (/ §6).
type Policy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	RetryableHint  bool // step config's explicit `retryable: true` override
}

// DefaultPolicy matches the teacher's executor.go default of two attempts
// with a doubling backoff starting at one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   2,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// transientSubstrings are lowercase-matched against an error's message to
// recognize transient network failures that don't arrive as a typed
// ProviderError, matching the teacher's ETIMEDOUT/ECONNRESET-style checks.
var transientSubstrings = []string{
	"econnreset",
	"etimedout",
	"econnrefused",
	"dns",
	"connection reset",
	"connection refused",
	"timeout",
	"429",
	"502",
	"503",
	"504",
}

// ShouldRetry answers whether a step should be retried for err, matching
// never/retry rules.
func ShouldRetry(err error, policy Policy) bool {
	if err == nil {
		return false
	}

	var validationErr *flowerrors.ValidationError
	if errors.As(err, &validationErr) {
		return false
	}
	var configErr *flowerrors.ConfigError
	if errors.As(err, &configErr) {
		return false
	}
	var cancelledErr *flowerrors.CancelledError
	if errors.As(err, &cancelledErr) {
		return false
	}
	var executorErr *flowerrors.ExecutorError
	if errors.As(err, &executorErr) {
		return false
	}
	var timeoutErr *flowerrors.TimeoutError
	if errors.As(err, &timeoutErr) {
		return timeoutErr.IsRetryable()
	}
	var providerErr *flowerrors.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.IsRetryable()
	}

	if policy.RetryableHint {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, substr := range transientSubstrings {
		if strings.Contains(msg, substr) {
			return true
		}
	}

	return false
}

// BackoffDelay returns the delay to wait after failed attempt number
// `attempt` (1-based: attempt 1 gives the delay before the *second*
// attempt, i.e. after the first failure).
func BackoffDelay(policy Policy, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	factor := policy.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}
	delay := policy.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * factor)
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
			break
		}
	}
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// Do runs fn, retrying per policy while ctx is not cancelled and
// ShouldRetry approves. It returns the last error if attempts are
// exhausted, along with how many attempts were made.
func Do(ctx context.Context, policy Policy, fn func(attempt int) error) (attempts int, err error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		err = fn(attempt)
		if err == nil {
			return attempts, nil
		}

		if attempt == maxAttempts || !ShouldRetry(err, policy) {
			return attempts, err
		}

		delay := BackoffDelay(policy, attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts, ctx.Err()
		case <-timer.C:
		}
	}
	return attempts, err
}
