// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Device() DeviceConfig
	Agent() AgentConfig
	LLM() LLMRouterConfig
	Trace() TraceConfig

	// Agent setters
	SetAgentMode(mode string)
	SetAgentCompressThreshold(n int)

	// Device setters
	SetDeviceSerial(serial string)

	// Trace setters
	SetTraceEnabled(bool)
	SetTracePath(string)
}

// Config holds the entire application configuration. Fields stay exported so
// viper can unmarshal into them; callers go through the Interface methods.
type Config struct {
	LoggerCfg LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	DeviceCfg DeviceConfig    `mapstructure:"device" yaml:"device"`
	AgentCfg  AgentConfig     `mapstructure:"agent" yaml:"agent"`
	LLMCfg    LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	TraceCfg  TraceConfig     `mapstructure:"trace" yaml:"trace"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig { return c.LoggerCfg }
func (c *Config) Device() DeviceConfig { return c.DeviceCfg }
func (c *Config) Agent() AgentConfig   { return c.AgentCfg }
func (c *Config) LLM() LLMRouterConfig { return c.LLMCfg }
func (c *Config) Trace() TraceConfig   { return c.TraceCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetAgentMode(mode string)        { c.AgentCfg.Mode = mode }
func (c *Config) SetAgentCompressThreshold(n int) { c.AgentCfg.CompressThreshold = n }
func (c *Config) SetDeviceSerial(serial string)   { c.DeviceCfg.Serial = serial }
func (c *Config) SetTraceEnabled(b bool)          { c.TraceCfg.Enabled = b }
func (c *Config) SetTracePath(p string)           { c.TraceCfg.Path = p }

// LoggerConfig controls the structured logger and its file rotation.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DeviceConfig holds settings for the ADB-backed device surface.
type DeviceConfig struct {
	// Serial selects a specific device when several are attached. Empty
	// means "the only device" and fails if there are many.
	Serial string `mapstructure:"serial" yaml:"serial"`
	// AdbPath overrides the adb binary looked up on PATH.
	AdbPath string `mapstructure:"adb_path" yaml:"adb_path"`
	// CommandTimeout bounds any single adb invocation.
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	// GestureWait bounds how long the dispatcher waits for a gesture's
	// asynchronous completion signal before assuming success.
	GestureWait time.Duration `mapstructure:"gesture_wait" yaml:"gesture_wait"`
	// GestureRate caps dispatched gestures per second.
	GestureRate float64 `mapstructure:"gesture_rate" yaml:"gesture_rate"`
}

// AgentConfig holds the agent loop's runtime tunables.
type AgentConfig struct {
	// Mode is the observation mode: vision, accessibility or hybrid.
	Mode string `mapstructure:"mode" yaml:"mode"`
	// CompressThreshold is the context size (characters plus image bytes)
	// above which history compression triggers.
	CompressThreshold int `mapstructure:"compress_threshold" yaml:"compress_threshold"`
	// KeepRecent is the number of most recent messages retained verbatim
	// through compression.
	KeepRecent int `mapstructure:"keep_recent" yaml:"keep_recent"`
	// ReplanAfterFailures injects re-plan guidance at this many
	// consecutive dispatch failures.
	ReplanAfterFailures int `mapstructure:"replan_after_failures" yaml:"replan_after_failures"`
	// TakeoverHintAfterFailures injects a hand-control-to-the-user hint at
	// this many consecutive dispatch failures.
	TakeoverHintAfterFailures int `mapstructure:"takeover_hint_after_failures" yaml:"takeover_hint_after_failures"`
	// StepPacing is the fixed delay between loop iterations.
	StepPacing time.Duration `mapstructure:"step_pacing" yaml:"step_pacing"`
	// InterventionWait is the pause after a take-over before the loop
	// resumes on its own.
	InterventionWait time.Duration `mapstructure:"intervention_wait" yaml:"intervention_wait"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
)

// LLMRouterConfig configures the model routing logic. The primary tier
// plans steps; the lite tier serves auxiliary requests such as history
// summarization.
type LLMRouterConfig struct {
	DefaultPrimaryModel string                    `mapstructure:"default_primary_model" yaml:"default_primary_model"`
	DefaultLiteModel    string                    `mapstructure:"default_lite_model" yaml:"default_lite_model"`
	Models              map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"api_key"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// TraceConfig configures the on-disk step trace store.
type TraceConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "droidpilot")
	v.SetDefault("logger.log_file", "droidpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Device --
	v.SetDefault("device.adb_path", "adb")
	v.SetDefault("device.command_timeout", "30s")
	v.SetDefault("device.gesture_wait", "3s")
	v.SetDefault("device.gesture_rate", 4.0)

	// -- Agent --
	v.SetDefault("agent.mode", "hybrid")
	v.SetDefault("agent.compress_threshold", 200000)
	v.SetDefault("agent.keep_recent", 4)
	v.SetDefault("agent.replan_after_failures", 2)
	v.SetDefault("agent.takeover_hint_after_failures", 5)
	v.SetDefault("agent.step_pacing", "500ms")
	v.SetDefault("agent.intervention_wait", "15s")

	// -- LLM --
	v.SetDefault("llm.default_primary_model", "gemini-2.5-pro")
	v.SetDefault("llm.default_lite_model", "gemini-2.5-flash")

	// -- Trace --
	v.SetDefault("trace.enabled", false)
	v.SetDefault("trace.path", "droidpilot-trace.db")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("llm.models.primary.api_key", "DROIDPILOT_PRIMARY_API_KEY")
	v.BindEnv("llm.models.lite.api_key", "DROIDPILOT_LITE_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.AgentCfg.Mode {
	case "vision", "accessibility", "hybrid":
	default:
		return fmt.Errorf("agent.mode must be one of vision, accessibility, hybrid; got %q", c.AgentCfg.Mode)
	}
	if c.AgentCfg.CompressThreshold < 0 {
		return fmt.Errorf("agent.compress_threshold must not be negative")
	}
	if c.AgentCfg.ReplanAfterFailures <= 0 {
		return fmt.Errorf("agent.replan_after_failures must be a positive integer")
	}
	if c.AgentCfg.TakeoverHintAfterFailures < c.AgentCfg.ReplanAfterFailures {
		return fmt.Errorf("agent.takeover_hint_after_failures must not be below agent.replan_after_failures")
	}
	if c.DeviceCfg.GestureRate <= 0 {
		return fmt.Errorf("device.gesture_rate must be a positive number")
	}
	if c.TraceCfg.Enabled && c.TraceCfg.Path == "" {
		return fmt.Errorf("trace.path is required when trace.enabled is set")
	}
	return nil
}
