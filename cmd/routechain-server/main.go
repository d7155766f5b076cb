package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/semantrix/routechain/internal/pricing"
	"github.com/semantrix/routechain/internal/providers"
	"github.com/semantrix/routechain/internal/router"
	"github.com/semantrix/routechain/internal/router/policies"
	"github.com/semantrix/routechain/internal/server"
)

// Version information - this would be set during build
var (
	version   = "dev"
	commitSHA = "unknown"
	buildTime = "unknown"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("routechain version %s\n", version)
		fmt.Printf("Commit: %s\n", commitSHA)
		fmt.Printf("Built: %s\n", buildTime)
		os.Exit(0)
	}

	config, err := loadConfig(viper.New(), *configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	server.Version = version

	srv, err := server.NewServer(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}

	srv.WaitForShutdown()
}

// loadConfig loads configuration from file and environment variables.
// ROUTECHAIN_ROUTER_MAX_RETRIES_PER_MODEL overrides router.max_retries_per_model.
func loadConfig(v *viper.Viper, configFile string) (*server.Config, error) {
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("ROUTECHAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// SetConfigFile reports a missing file as a path error.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		fmt.Fprintln(os.Stderr, "Config file not found, using defaults")
	}

	var config server.Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// setDefaults sets sensible default values for configuration.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Fallback chain defaults
	rc := router.DefaultConfig()
	v.SetDefault("router.models", rc.Models)
	v.SetDefault("router.max_retries_per_model", rc.MaxRetriesPerModel)
	v.SetDefault("router.base_delay", rc.BaseDelay)
	v.SetDefault("router.max_delay", rc.MaxDelay)
	v.SetDefault("router.rate_limit_fallback", router.DefaultRateLimitWait)

	// Complexity tiers
	for tier, models := range policies.DefaultTiers() {
		v.SetDefault("tiers."+string(tier), models)
	}

	// Experiment defaults
	v.SetDefault("experiment.enabled", false)
	v.SetDefault("experiment.name", "default")
	v.SetDefault("experiment.model_a", policies.ModelClaudeSonnet)
	v.SetDefault("experiment.model_b", policies.ModelGPT4o)
	v.SetDefault("experiment.split_ratio", policies.DefaultSplitRatio)

	// Pricing defaults
	v.SetDefault("pricing.default.input_per_1m", pricing.DefaultEntry.InputPer1M)
	v.SetDefault("pricing.default.output_per_1m", pricing.DefaultEntry.OutputPer1M)

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.output_path", "stdout")
	v.SetDefault("observability.logging.error_path", "")
	v.SetDefault("observability.logging.development", false)

	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 9090)
	v.SetDefault("observability.metrics.path", "/metrics")

	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "routechain")
	v.SetDefault("observability.tracing.environment", "development")

	// Provider defaults
	v.SetDefault("providers.openrouter.enabled", true)
	v.SetDefault("providers.openrouter.name", "openrouter")
	v.SetDefault("providers.openrouter.api_key", "")
	v.SetDefault("providers.openrouter.base_url", providers.DefaultOpenRouterURL)
	v.SetDefault("providers.openrouter.timeout", 2*time.Minute)
	v.SetDefault("providers.openrouter.app_url", "")
	v.SetDefault("providers.openrouter.app_name", "routechain")

	v.SetDefault("providers.anthropic.enabled", false)
	v.SetDefault("providers.anthropic.name", "anthropic")
	v.SetDefault("providers.anthropic.api_key", "")
	v.SetDefault("providers.anthropic.base_url", "")
	v.SetDefault("providers.anthropic.timeout", 2*time.Minute)
	v.SetDefault("providers.anthropic.max_tokens", 4096)
}
