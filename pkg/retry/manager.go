package retry

import (
	"context"
	"sync"
)

// Manager owns one circuit breaker per step ID and runs a step's
// execute-plus-retry sequence through it, matching "circuit
// breaker wraps a step's execution-plus-retry" contract.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
}

// NewManager creates a retry manager sharing one BreakerConfig across
// all steps; each step gets its own breaker instance and failure history.
func NewManager(cfg BreakerConfig) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
	}
}

func (m *Manager) breakerFor(stepID string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[stepID]
	if !ok {
		b = NewBreaker(stepID, m.cfg)
		m.breakers[stepID] = b
	}
	return b
}

// Execute runs fn for stepID under both retry policy and circuit breaker.
// attempts reports how many times fn was actually invoked (0 if the
// breaker rejected the call outright).
func (m *Manager) Execute(ctx context.Context, stepID string, policy Policy, fn func(attempt int) (any, error)) (result any, attempts int, err error) {
	breaker := m.breakerFor(stepID)

	_, err = Do(ctx, policy, func(attempt int) error {
		out, callErr := breaker.Execute(func() (any, error) {
			attempts++
			return fn(attempt)
		})
		if callErr != nil {
			return callErr
		}
		result = out
		return nil
	})
	return result, attempts, err
}

// BreakerState reports the named step's breaker state ("closed",
// "open", "half-open", or "" if no breaker has been created yet).
func (m *Manager) BreakerState(stepID string) string {
	m.mu.Lock()
	b, ok := m.breakers[stepID]
	m.mu.Unlock()
	if !ok {
		return ""
	}
	return b.State()
}
