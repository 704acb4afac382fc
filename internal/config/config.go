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
	LLM() LLMConfig
	Guardrails() GuardrailsConfig
	Orchestrator() OrchestratorConfig
	Store() StoreConfig
	Output() OutputConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	LLMCfg          LLMConfig          `mapstructure:"llm" yaml:"llm"`
	GuardrailsCfg   GuardrailsConfig   `mapstructure:"guardrails" yaml:"guardrails"`
	OrchestratorCfg OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	StoreCfg        StoreConfig        `mapstructure:"store" yaml:"store"`
	OutputCfg       OutputConfig       `mapstructure:"output" yaml:"output"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig             { return c.LoggerCfg }
func (c *Config) LLM() LLMConfig                   { return c.LLMCfg }
func (c *Config) Guardrails() GuardrailsConfig     { return c.GuardrailsCfg }
func (c *Config) Orchestrator() OrchestratorConfig { return c.OrchestratorCfg }
func (c *Config) Store() StoreConfig               { return c.StoreCfg }
func (c *Config) Output() OutputConfig             { return c.OutputCfg }

// LoggerConfig holds all the configuration for the logger.
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

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMConfig configures the model routing logic: one model per tier plus a
// shared request rate limit across both.
type LLMConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	RequestsPerMinute    float64                   `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// ModelFor resolves the configured model for a tier name ("fast" or
// "powerful"), falling back to a bare config carrying only the model name.
func (l LLMConfig) ModelFor(tier string) LLMModelConfig {
	name := l.DefaultFastModel
	if tier == "powerful" {
		name = l.DefaultPowerfulModel
	}
	if cfg, ok := l.Models[name]; ok {
		if cfg.Model == "" {
			cfg.Model = name
		}
		return cfg
	}
	return LLMModelConfig{Provider: ProviderGemini, Model: name}
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"-"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float64           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// GuardrailsConfig holds the ceilings and policy lists enforced between
// iterations. Zero-valued lists fall back to built-in defaults.
type GuardrailsConfig struct {
	MaxIterations        int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	MaxTotalTokens       int64         `mapstructure:"max_total_tokens" yaml:"max_total_tokens"`
	ExecutionTimeout     time.Duration `mapstructure:"execution_timeout" yaml:"execution_timeout"`
	IterationSoftLimit   int           `mapstructure:"iteration_soft_limit" yaml:"iteration_soft_limit"`
	LowScoreThreshold    float64       `mapstructure:"low_score_threshold" yaml:"low_score_threshold"`
	ApproveThreshold     float64       `mapstructure:"approve_threshold" yaml:"approve_threshold"`
	ExcellentScore       float64       `mapstructure:"excellent_score" yaml:"excellent_score"`
	SecurityKeywords     []string      `mapstructure:"security_keywords" yaml:"security_keywords"`
	SensitiveFileGlobs   []string      `mapstructure:"sensitive_file_globs" yaml:"sensitive_file_globs"`
	BreakingAPIPatterns  []string      `mapstructure:"breaking_api_patterns" yaml:"breaking_api_patterns"`
	DataDeletionPatterns []string      `mapstructure:"data_deletion_patterns" yaml:"data_deletion_patterns"`
}

// OrchestratorConfig holds the loop knobs that are not guardrail ceilings.
type OrchestratorConfig struct {
	// MaxCollaboratorRetries bounds extra generator/reviewer attempts per
	// iteration after a transient failure.
	MaxCollaboratorRetries int `mapstructure:"max_collaborator_retries" yaml:"max_collaborator_retries"`
	// WorkspaceRoot is the tree grounding checks run against.
	WorkspaceRoot string `mapstructure:"workspace_root" yaml:"workspace_root"`
	// DefaultTier is used when the caller does not pick one.
	DefaultTier string `mapstructure:"default_tier" yaml:"default_tier"`
}

// StoreConfig selects and configures the session store backend.
type StoreConfig struct {
	// Backend is "file" or "postgres".
	Backend     string `mapstructure:"backend" yaml:"backend"`
	Dir         string `mapstructure:"dir" yaml:"dir"`
	DatabaseURL string `mapstructure:"database_url" yaml:"-"`
}

// OutputConfig controls where accepted plans are rendered.
type OutputConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
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
	v.SetDefault("logger.service_name", "planforge")
	v.SetDefault("logger.log_file", "planforge.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- LLM --
	v.SetDefault("llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.requests_per_minute", 30.0)

	// -- Guardrails --
	v.SetDefault("guardrails.max_iterations", 10)
	v.SetDefault("guardrails.max_total_tokens", 500_000)
	v.SetDefault("guardrails.execution_timeout", "10m")
	v.SetDefault("guardrails.iteration_soft_limit", 7)
	v.SetDefault("guardrails.low_score_threshold", 0.5)
	v.SetDefault("guardrails.approve_threshold", 0.85)
	v.SetDefault("guardrails.excellent_score", 0.95)

	// -- Orchestrator --
	v.SetDefault("orchestrator.max_collaborator_retries", 2)
	v.SetDefault("orchestrator.workspace_root", ".")
	v.SetDefault("orchestrator.default_tier", "standard")

	// -- Store --
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.dir", ".planforge/sessions")

	// -- Output --
	v.SetDefault("output.dir", "plans")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("store.database_url", "PLANFORGE_DATABASE_URL")

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
	if c.GuardrailsCfg.MaxIterations <= 0 {
		return fmt.Errorf("guardrails.max_iterations must be a positive integer")
	}
	if c.GuardrailsCfg.MaxTotalTokens <= 0 {
		return fmt.Errorf("guardrails.max_total_tokens must be a positive integer")
	}
	if c.GuardrailsCfg.ExecutionTimeout <= 0 {
		return fmt.Errorf("guardrails.execution_timeout must be a positive duration")
	}
	if t := c.GuardrailsCfg.ApproveThreshold; t < 0.0 || t > 1.0 {
		return fmt.Errorf("guardrails.approve_threshold must be between 0.0 and 1.0")
	}
	if t := c.GuardrailsCfg.LowScoreThreshold; t < 0.0 || t > 1.0 {
		return fmt.Errorf("guardrails.low_score_threshold must be between 0.0 and 1.0")
	}
	if c.GuardrailsCfg.LowScoreThreshold > c.GuardrailsCfg.ApproveThreshold {
		return fmt.Errorf("guardrails.low_score_threshold must not exceed guardrails.approve_threshold")
	}
	if c.OrchestratorCfg.MaxCollaboratorRetries < 0 {
		return fmt.Errorf("orchestrator.max_collaborator_retries must not be negative")
	}
	switch c.StoreCfg.Backend {
	case "file":
		if c.StoreCfg.Dir == "" {
			return fmt.Errorf("store.dir is required for the file backend")
		}
	case "postgres":
		if c.StoreCfg.DatabaseURL == "" {
			return fmt.Errorf("store.database_url is required for the postgres backend. Set PLANFORGE_DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown store backend: %q. Supported: [file, postgres]", c.StoreCfg.Backend)
	}
	return nil
}
