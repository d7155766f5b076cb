package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semantrix/routechain/internal/router"
	"github.com/semantrix/routechain/internal/router/policies"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, router.DefaultConfig().Models, cfg.Router.Models)
	assert.Equal(t, 3, cfg.Router.MaxRetriesPerModel)
	assert.Equal(t, time.Second, cfg.Router.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Router.MaxDelay)
	assert.Equal(t, router.DefaultRateLimitWait, cfg.Router.RateLimitFallback)
	assert.Equal(t, policies.DefaultSplitRatio, cfg.Experiment.SplitRatio)
	assert.False(t, cfg.Experiment.Enabled)
	assert.Equal(t, 1.0, cfg.Pricing.Default.InputPer1M)
	assert.True(t, cfg.Providers.OpenRouter.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
router:
  models:
    - openai/gpt-4o-mini
    - openai/gpt-4o
  base_delay: 250ms
experiment:
  enabled: true
  model_a: openai/gpt-4o
  model_b: anthropic/claude-3-5-sonnet
  split_ratio: 0.2
pricing:
  models:
    - model: google/gemini-pro-1.5
      input_per_1m: 2
      output_per_1m: 4
`), 0o644))

	t.Setenv("ROUTECHAIN_ROUTER_MAX_RETRIES_PER_MODEL", "5")
	t.Setenv("ROUTECHAIN_SERVER_PORT", "9999")

	cfg, err := loadConfig(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"openai/gpt-4o-mini", "openai/gpt-4o"}, cfg.Router.Models)
	assert.Equal(t, 250*time.Millisecond, cfg.Router.BaseDelay)
	assert.Equal(t, 5, cfg.Router.MaxRetriesPerModel)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.True(t, cfg.Experiment.Enabled)
	assert.Equal(t, 0.2, cfg.Experiment.SplitRatio)
	require.Len(t, cfg.Pricing.Models, 1)
	assert.Equal(t, "google/gemini-pro-1.5", cfg.Pricing.Models[0].Model)
	assert.Equal(t, 4.0, cfg.Pricing.Models[0].OutputPer1M)
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("router: [unclosed"), 0o644))

	_, err := loadConfig(viper.New(), path)
	assert.Error(t, err)
}
