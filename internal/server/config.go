package server

import (
	"fmt"
	"time"

	"github.com/semantrix/routechain/internal/observability"
	"github.com/semantrix/routechain/internal/pricing"
	"github.com/semantrix/routechain/internal/providers"
	"github.com/semantrix/routechain/internal/router"
	"github.com/semantrix/routechain/internal/router/policies"
)

// Config holds the server configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`

	Router router.Config `mapstructure:"router"`

	// Tiers overrides the model lists of the cost-based policy, keyed by
	// simple, medium and complex.
	Tiers map[string][]string `mapstructure:"tiers"`

	Experiment policies.ExperimentConfig `mapstructure:"experiment"`

	Pricing PricingConfig `mapstructure:"pricing"`

	Providers ProvidersConfig `mapstructure:"providers"`

	Observability struct {
		Logging observability.LoggerConfig  `mapstructure:"logging"`
		Metrics observability.MetricsConfig `mapstructure:"metrics"`
		Tracing observability.TracingConfig `mapstructure:"tracing"`
	} `mapstructure:"observability"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PricingConfig overrides or extends the built-in price list. Models is a
// list rather than a map because model IDs may contain dots, which viper
// treats as key separators.
type PricingConfig struct {
	Default pricing.PriceEntry `mapstructure:"default"`
	Models  []ModelPrice       `mapstructure:"models"`
}

// ModelPrice is one configured price override.
type ModelPrice struct {
	Model              string `mapstructure:"model"`
	pricing.PriceEntry `mapstructure:",squash"`
}

// Overrides returns the configured prices keyed by model.
func (c PricingConfig) Overrides() (map[string]pricing.PriceEntry, error) {
	out := make(map[string]pricing.PriceEntry, len(c.Models))
	for i, mp := range c.Models {
		if mp.Model == "" {
			return nil, fmt.Errorf("pricing.models[%d]: model is required", i)
		}
		out[mp.Model] = mp.PriceEntry
	}
	return out, nil
}

// ProvidersConfig enables the upstream clients.
type ProvidersConfig struct {
	OpenRouter providers.ProviderConfig  `mapstructure:"openrouter"`
	Anthropic  providers.AnthropicConfig `mapstructure:"anthropic"`
}

// Validate checks the parts of the configuration the server depends on.
func (c *Config) Validate() error {
	if err := c.Router.Validate(); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	for name := range c.Tiers {
		switch policies.Tier(name) {
		case policies.TierSimple, policies.TierMedium, policies.TierComplex:
		default:
			return fmt.Errorf("tiers: unknown tier %q", name)
		}
	}
	return nil
}

// TierTable merges configured tiers over the defaults.
func (c *Config) TierTable() map[policies.Tier][]string {
	tiers := policies.DefaultTiers()
	for name, models := range c.Tiers {
		if len(models) > 0 {
			tiers[policies.Tier(name)] = models
		}
	}
	return tiers
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	c := &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Router: router.DefaultConfig(),
		Experiment: policies.ExperimentConfig{
			Name:       "default",
			SplitRatio: policies.DefaultSplitRatio,
		},
	}
	c.Observability.Logging = observability.LoggerConfig{Level: "info", Format: "json"}
	c.Observability.Metrics = observability.MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"}
	c.Observability.Tracing = observability.TracingConfig{ServiceName: "routechain", Environment: "development"}
	return c
}
