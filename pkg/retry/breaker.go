package retry

import (
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig configures the per-step circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32
	Timeout          time.Duration
	HalfOpenMaxCalls uint32
}

// DefaultBreakerConfig matches the teacher's failover.go defaults
// (5 consecutive failures, 30s cooldown), reused here as the circuit
// breaker's own closed-to-open threshold and open-to-half-open timeout.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Breaker wraps gobreaker's three-state machine (closed/open/half-open)
// around a step's execute-plus-retry call, adopted from the wider example
// pack (see DESIGN.md) because it implements the textbook three states
// teacher's own simpler
// open/closed-only breaker in pkg/llm/failover.go.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker creates a named circuit breaker (name is typically the step ID).
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Execute runs fn through the breaker. If the breaker is open, fn is never
// called and gobreaker.ErrOpenState is returned.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// State reports the breaker's current state as a string ("closed",
// "half-open", "open") for status reporting and hook events.
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Counts exposes the breaker's rolling failure/success counters.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}
