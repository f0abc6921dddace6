package core

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Configuration holds the small set of keys spec.md §6 names for the engine.
// Field names mirror the spec's config keys; env vars follow the teacher's
// PILOT_* / GOMIND_* convention of upper-snake-casing the field name.
type Configuration struct {
	PilotEnabled             bool          `json:"pilot_enabled" mapstructure:"pilot_enabled"`
	MaxParallelSteps         int           `json:"max_parallel_steps" mapstructure:"max_parallel_steps"`
	DefaultTimeout           time.Duration `json:"default_timeout" mapstructure:"default_timeout"`
	EnableCaching            bool          `json:"enable_caching" mapstructure:"enable_caching"`
	ContinueOnError          bool          `json:"continue_on_error" mapstructure:"continue_on_error"`
	EnableProgressTracking   bool          `json:"enable_progress_tracking" mapstructure:"enable_progress_tracking"`
	EnableRealTimeUpdates    bool          `json:"enable_real_time_updates" mapstructure:"enable_real_time_updates"`
	EnableOptimizations      bool          `json:"enable_optimizations" mapstructure:"enable_optimizations"`
	MemoryLoadTimeoutMs      int           `json:"memory_load_timeout_ms" mapstructure:"memory_load_timeout_ms"`
	CalculatorTokensPerPlugin int          `json:"calculator_tokens_per_plugin" mapstructure:"calculator_tokens_per_plugin"`

	// Config cache TTL per spec §4.8 step (1): "load configuration (bounded
	// cache, e.g. 5 min)".
	ConfigCacheTTL time.Duration `json:"config_cache_ttl" mapstructure:"config_cache_ttl"`
}

// DefaultConfig returns the engine's default configuration, then applies any
// environment variable overrides — the same two-phase shape as gomind's
// orchestration.DefaultConfig().
func DefaultConfig() *Configuration {
	cfg := &Configuration{
		PilotEnabled:              true,
		MaxParallelSteps:          3,
		DefaultTimeout:            5 * time.Minute,
		EnableCaching:             true,
		ContinueOnError:           false,
		EnableProgressTracking:    true,
		EnableRealTimeUpdates:     false,
		EnableOptimizations:       true,
		MemoryLoadTimeoutMs:       10_000,
		CalculatorTokensPerPlugin: 400,
		ConfigCacheTTL:            5 * time.Minute,
	}
	cfg.applyEnv()
	return cfg
}

func (c *Configuration) applyEnv() {
	if v := os.Getenv("PILOT_ENABLED"); v != "" {
		c.PilotEnabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("PILOT_MAX_PARALLEL_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxParallelSteps = n
		}
	}
	if v := os.Getenv("PILOT_DEFAULT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DefaultTimeout = d
		}
	}
	if v := os.Getenv("PILOT_ENABLE_CACHING"); v != "" {
		c.EnableCaching = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("PILOT_CONTINUE_ON_ERROR"); v != "" {
		c.ContinueOnError = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("PILOT_ENABLE_PROGRESS_TRACKING"); v != "" {
		c.EnableProgressTracking = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("PILOT_ENABLE_REALTIME_UPDATES"); v != "" {
		c.EnableRealTimeUpdates = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("PILOT_ENABLE_OPTIMIZATIONS"); v != "" {
		c.EnableOptimizations = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("PILOT_MEMORY_LOAD_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MemoryLoadTimeoutMs = n
		}
	}
	if v := os.Getenv("PILOT_TOKENS_PER_PLUGIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.CalculatorTokensPerPlugin = n
		}
	}
}

// LoadFromFile reads a YAML or JSON configuration file via viper, overlays it
// on top of DefaultConfig(), and applies environment overrides last so env
// vars always win — matching the precedence order operators expect from the
// rest of the pack's viper-based services. The decode hook is set explicitly
// because viper's own default Unmarshal won't turn a "5m" string into a
// time.Duration field without it.
func LoadFromFile(path string) (*Configuration, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, NewFrameworkError("core.LoadFromFile", "config", err)
	}

	decoded := *cfg
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&decoded, decodeHook); err != nil {
		return nil, NewFrameworkError("core.LoadFromFile", "config", err)
	}
	decoded.applyEnv()
	return &decoded, nil
}
