package agent

import "time"

// Config configures agent execution limits and behavior.
type Config struct {
	// MaxRounds limits the number of tool-call rounds in the loop.
	// Default: 25
	MaxRounds int

	// TokenLimit sets cumulative token threshold across all rounds.
	// Default: 50000
	TokenLimit int

	// StopOnError determines agent behavior on tool failures
	// When true: stop immediately on first tool error
	// When false: report error to agent, allow recovery attempts (default)
	StopOnError bool

	// Model specifies the model ID to use (already resolved from tier)
	Model string

	// Timeout bounds the whole run, independent of MaxRounds.
	// Default: 60s
	Timeout time.Duration
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() Config {
	return Config{
		MaxRounds:   25,
		TokenLimit:  50000,
		StopOnError: false,
		Model:       "balanced",
		Timeout:     60 * time.Second,
	}
}

// WithDefaults fills in missing config values with defaults.
func (c Config) WithDefaults() Config {
	result := c
	if result.MaxRounds == 0 {
		result.MaxRounds = 25
	}
	if result.TokenLimit == 0 {
		result.TokenLimit = 50000
	}
	if result.Model == "" {
		result.Model = "balanced"
	}
	if result.Timeout == 0 {
		result.Timeout = 60 * time.Second
	}
	return result
}
