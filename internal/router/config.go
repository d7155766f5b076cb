package router

import (
	"fmt"
	"time"
)

// DefaultRateLimitWait is used when a rate-limited response carries no Retry-After hint.
const DefaultRateLimitWait = 60 * time.Second

// Config holds the fallback chain for a routed call.
// The order of Models is the fallback priority, highest first.
type Config struct {
	Models             []string      `mapstructure:"models"`
	MaxRetriesPerModel int           `mapstructure:"max_retries_per_model"`
	BaseDelay          time.Duration `mapstructure:"base_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	RateLimitFallback  time.Duration `mapstructure:"rate_limit_fallback"`
}

// DefaultConfig returns the chain used when nothing else is configured.
func DefaultConfig() Config {
	return Config{
		Models: []string{
			"anthropic/claude-3-5-sonnet",
			"openai/gpt-4o",
			"google/gemini-pro-1.5",
		},
		MaxRetriesPerModel: 3,
		BaseDelay:          time.Second,
		MaxDelay:           10 * time.Second,
		RateLimitFallback:  DefaultRateLimitWait,
	}
}

// Validate checks the invariants every routed call relies on.
func (c Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model is required")
	}
	for i, m := range c.Models {
		if m == "" {
			return fmt.Errorf("model %d is empty", i)
		}
	}
	if c.MaxRetriesPerModel < 1 {
		return fmt.Errorf("max retries per model must be at least 1, got %d", c.MaxRetriesPerModel)
	}
	if c.BaseDelay <= 0 || c.MaxDelay <= 0 {
		return fmt.Errorf("base and max delay must be positive")
	}
	if c.BaseDelay > c.MaxDelay {
		return fmt.Errorf("base delay %s exceeds max delay %s", c.BaseDelay, c.MaxDelay)
	}
	if c.RateLimitFallback < 0 {
		return fmt.Errorf("rate limit fallback must not be negative")
	}
	return nil
}

// WithModels returns a copy of the config using a different candidate list.
func (c Config) WithModels(models []string) Config {
	out := c
	out.Models = append([]string(nil), models...)
	return out
}

// MaxAttempts is the upper bound on provider calls for one routed call.
func (c Config) MaxAttempts() int {
	return len(c.Models) * c.MaxRetriesPerModel
}

func (c Config) rateLimitFallback() time.Duration {
	if c.RateLimitFallback == 0 {
		return DefaultRateLimitWait
	}
	return c.RateLimitFallback
}
