// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "droidpilot", cfg.Logger().ServiceName)
	assert.Equal(t, "adb", cfg.Device().AdbPath)
	assert.Equal(t, 3*time.Second, cfg.Device().GestureWait)
	assert.Equal(t, 4.0, cfg.Device().GestureRate)
	assert.Equal(t, "hybrid", cfg.Agent().Mode)
	assert.Equal(t, 200000, cfg.Agent().CompressThreshold)
	assert.Equal(t, 2, cfg.Agent().ReplanAfterFailures)
	assert.Equal(t, 5, cfg.Agent().TakeoverHintAfterFailures)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM().DefaultPrimaryModel)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM().DefaultLiteModel)
	assert.False(t, cfg.Trace().Enabled)
	assert.Equal(t, "droidpilot-trace.db", cfg.Trace().Path)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	// Start with a valid default config.
	cfg := NewDefaultConfig()
	assert.NoError(t, cfg.Validate(), "the default config should validate")

	t.Run("invalid mode", func(t *testing.T) {
		bad := *cfg
		bad.AgentCfg.Mode = "telepathy"
		err := bad.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "agent.mode must be one of")
	})

	t.Run("negative compress threshold", func(t *testing.T) {
		bad := *cfg
		bad.AgentCfg.CompressThreshold = -1
		err := bad.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "compress_threshold")
	})

	t.Run("replan threshold must be positive", func(t *testing.T) {
		bad := *cfg
		bad.AgentCfg.ReplanAfterFailures = 0
		assert.Error(t, bad.Validate())
	})

	t.Run("takeover hint below replan threshold", func(t *testing.T) {
		bad := *cfg
		bad.AgentCfg.ReplanAfterFailures = 4
		bad.AgentCfg.TakeoverHintAfterFailures = 3
		err := bad.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "takeover_hint_after_failures")
	})

	t.Run("gesture rate must be positive", func(t *testing.T) {
		bad := *cfg
		bad.DeviceCfg.GestureRate = 0
		assert.Error(t, bad.Validate())
	})

	t.Run("trace path required when enabled", func(t *testing.T) {
		bad := *cfg
		bad.TraceCfg.Enabled = true
		bad.TraceCfg.Path = ""
		err := bad.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "trace.path")
	})
}

// -- Viper Integration Tests --

func TestNewConfigFromViperOverridesDefaults(t *testing.T) {
	yamlInput := `
agent:
  mode: vision
  keep_recent: 8
device:
  serial: emulator-5554
  gesture_wait: 5s
llm:
  models:
    primary:
      provider: gemini
      model: gemini-2.5-pro
      api_key: test-key
trace:
  enabled: true
  path: /tmp/trace.db
`
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yamlInput)))

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "vision", cfg.Agent().Mode)
	assert.Equal(t, 8, cfg.Agent().KeepRecent)
	assert.Equal(t, "emulator-5554", cfg.Device().Serial)
	assert.Equal(t, 5*time.Second, cfg.Device().GestureWait)
	assert.Equal(t, ProviderGemini, cfg.LLM().Models["primary"].Provider)
	assert.True(t, cfg.Trace().Enabled)

	// Defaults survive for keys the file does not touch.
	assert.Equal(t, 500*time.Millisecond, cfg.Agent().StepPacing)
	assert.Equal(t, "adb", cfg.Device().AdbPath)
}

func TestNewConfigFromViperRejectsInvalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("agent.mode", "nonsense")

	_, err := NewConfigFromViper(v)
	assert.Error(t, err)
}
