package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	flowerrors "github.com/flowengine/flowengine/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldRetryNeverRetriesValidation(t *testing.T) {
	err := &flowerrors.ValidationError{Field: "x", Message: "bad"}
	assert.False(t, ShouldRetry(err, DefaultPolicy()))
}

func TestShouldRetryRetriesServerErrors(t *testing.T) {
	err := &flowerrors.ProviderError{Provider: "p", StatusCode: 503}
	assert.True(t, ShouldRetry(err, DefaultPolicy()))
}

func TestShouldRetryHonorsRetryableHint(t *testing.T) {
	err := errors.New("some custom failure")
	assert.False(t, ShouldRetry(err, DefaultPolicy()))
	assert.True(t, ShouldRetry(err, Policy{MaxAttempts: 3, RetryableHint: true}))
}

func TestShouldRetryLongTimeoutNotRetried(t *testing.T) {
	err := &flowerrors.TimeoutError{Operation: "step", Duration: 90 * time.Second}
	assert.False(t, ShouldRetry(err, DefaultPolicy()))
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	policy := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2}
	calls := 0
	attempts, err := Do(context.Background(), policy, func(attempt int) error {
		calls++
		if calls < 3 {
			return errors.New("timeout while calling")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	policy := Policy{MaxAttempts: 2, InitialDelay: time.Millisecond}
	attempts, err := Do(context.Background(), policy, func(attempt int) error {
		return errors.New("connection reset")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestManagerBreakerOpensAfterThreshold(t *testing.T) {
	mgr := NewManager(BreakerConfig{FailureThreshold: 2, Timeout: time.Minute, HalfOpenMaxCalls: 1})
	policy := Policy{MaxAttempts: 1}

	for i := 0; i < 2; i++ {
		_, _, err := mgr.Execute(context.Background(), "step-a", policy, func(attempt int) (any, error) {
			return nil, errors.New("boom")
		})
		assert.Error(t, err)
	}

	assert.Equal(t, "open", mgr.BreakerState("step-a"))
}
