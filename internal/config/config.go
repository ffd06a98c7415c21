package config

import (
	"os"

	"github.com/spf13/viper"
)

// Config holds all engine configuration
type Config struct {
	Generator GeneratorConfig `mapstructure:"generator"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Search    SearchConfig    `mapstructure:"search"`
	Plan      PlanConfig      `mapstructure:"plan"`
	Prompt    PromptConfig    `mapstructure:"prompt"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// GeneratorConfig holds completion provider settings
type GeneratorConfig struct {
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	APIKeyEnv  string `mapstructure:"api_key_env"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// SandboxConfig holds sandbox backend and retry settings
type SandboxConfig struct {
	Backend        string      `mapstructure:"backend"`
	BaseEnv        string      `mapstructure:"base_env"`
	StageTimeoutMS int         `mapstructure:"stage_timeout_ms"`
	Retry          RetryConfig `mapstructure:"retry"`
}

// RetryConfig holds infrastructure retry settings
type RetryConfig struct {
	MaxAttempts      int     `mapstructure:"max_attempts"`
	InitialBackoffMS int     `mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int     `mapstructure:"max_backoff_ms"`
	BackoffFactor    float64 `mapstructure:"backoff_factor"`
}

// SearchConfig holds beam search settings applied when the plan omits
// per-phase values
type SearchConfig struct {
	Width            int `mapstructure:"width"`
	MaxDepth         int `mapstructure:"max_depth"`
	ExpansionRetries int `mapstructure:"expansion_retries"`
}

// PlanConfig holds phase plan settings
type PlanConfig struct {
	Path string `mapstructure:"path"`
}

// PromptConfig holds prompt size settings
type PromptConfig struct {
	MaxFileBytes    int `mapstructure:"max_file_bytes"`
	MaxFailureBytes int `mapstructure:"max_failure_bytes"`
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// LoadConfigWithFile loads configuration from a specific file if provided,
// otherwise falls back to LoadConfig with the working directory.
func LoadConfigWithFile(workDir, configFile string) (*Config, error) {
	if configFile != "" {
		return LoadConfigFromPath(configFile)
	}
	return LoadConfig(workDir)
}

// LoadConfig loads configuration from forge.yaml in the given directory,
// falling back to the global XDG config file when the directory has
// none. If neither exists, sensible defaults are returned.
func LoadConfig(dir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("forge")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		if globalPath, pathErr := GlobalConfigPath(); pathErr == nil {
			return LoadConfigFromPath(globalPath)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadConfigFromPath loads configuration from a specific file path
func LoadConfigFromPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if _, err := os.Stat(configPath); err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			cfg := &Config{}
			if err := v.Unmarshal(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults sets all default values for configuration
func setDefaults(v *viper.Viper) {
	// Generator defaults
	v.SetDefault("generator.provider", DefaultProvider)
	v.SetDefault("generator.model", DefaultModel)
	v.SetDefault("generator.api_key_env", DefaultAPIKeyEnv)
	v.SetDefault("generator.max_retries", DefaultGenerationRetries)

	// Sandbox defaults
	v.SetDefault("sandbox.backend", DefaultSandboxBackend)
	v.SetDefault("sandbox.base_env", "")
	v.SetDefault("sandbox.stage_timeout_ms", DefaultStageTimeoutMS)
	v.SetDefault("sandbox.retry.max_attempts", DefaultRetryMaxAttempts)
	v.SetDefault("sandbox.retry.initial_backoff_ms", DefaultRetryInitialBackoffMS)
	v.SetDefault("sandbox.retry.max_backoff_ms", DefaultRetryMaxBackoffMS)
	v.SetDefault("sandbox.retry.backoff_factor", DefaultRetryBackoffFactor)

	// Search defaults
	v.SetDefault("search.width", DefaultWidth)
	v.SetDefault("search.max_depth", DefaultMaxDepth)
	v.SetDefault("search.expansion_retries", DefaultExpansionRetries)

	// Plan defaults
	v.SetDefault("plan.path", DefaultPlanPath)

	// Prompt defaults
	v.SetDefault("prompt.max_file_bytes", DefaultMaxFileBytes)
	v.SetDefault("prompt.max_failure_bytes", DefaultMaxFailureBytes)

	// Audit defaults
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.dir", DefaultAuditDir)
}
