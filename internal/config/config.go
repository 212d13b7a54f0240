package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete patchloop configuration
type Config struct {
	Loop      LoopConfig      `mapstructure:"loop" yaml:"loop"`
	Apply     ApplyConfig     `mapstructure:"apply" yaml:"apply"`
	Verify    VerifyConfig    `mapstructure:"verify" yaml:"verify"`
	AI        AIConfig        `mapstructure:"ai" yaml:"ai"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`
}

// LoopConfig controls the milestone/attempt state machine
type LoopConfig struct {
	// MaxIterations is the global attempt budget shared by all milestones (default: 10)
	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations"`
	// VerifyBudgetSeconds is the total time budget for one verification pass (default: 120)
	VerifyBudgetSeconds int `mapstructure:"verify_budget_seconds" yaml:"verify_budget_seconds"`
	// ContextMaxFiles caps how many code files are listed as retrieved context (default: 50)
	ContextMaxFiles int `mapstructure:"context_max_files" yaml:"context_max_files"`
	// ContextMaxChars caps the retrieved context embedded in each patch prompt (default: 8000)
	ContextMaxChars int `mapstructure:"context_max_chars" yaml:"context_max_chars"`
}

// ApplyConfig controls how proposed changes reach the working tree
type ApplyConfig struct {
	// PatchCommand is the patch-application tool (default: "patch")
	PatchCommand string `mapstructure:"patch_command" yaml:"patch_command"`
	// Strip is the number of leading path components removed from diff paths (default: 1)
	Strip int `mapstructure:"strip" yaml:"strip"`
	// TimeoutSeconds bounds each patch-tool invocation (default: 30)
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	// MaxChangesPerResponse limits how many diffs of one response are applied (default: 0, unlimited)
	MaxChangesPerResponse int `mapstructure:"max_changes_per_response" yaml:"max_changes_per_response"`
}

// VerifyConfig controls the verification commands
type VerifyConfig struct {
	// Commands are shell command strings run after every applied patch.
	// Empty means auto-detect from the repository's lockfiles.
	Commands []string `mapstructure:"commands" yaml:"commands"`
	// CIEnv sets CI=true in the environment of every command (default: true)
	CIEnv bool `mapstructure:"ci_env" yaml:"ci_env"`
	// ExcerptChars is the size of the kept log tail (default: 2048)
	ExcerptChars int `mapstructure:"excerpt_chars" yaml:"excerpt_chars"`
	// MinCommandTimeoutSeconds is the floor of the per-command timeout (default: 10)
	MinCommandTimeoutSeconds int `mapstructure:"min_command_timeout_seconds" yaml:"min_command_timeout_seconds"`
}

// AIConfig selects and tunes the completion provider
type AIConfig struct {
	// Backend is one of "anthropic", "openai", "ollama", "claude-cli" (default: "anthropic")
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Model overrides the backend's default model
	Model string `mapstructure:"model" yaml:"model"`
	// RequestTimeoutSeconds bounds each completion request (default: 0, unbounded)
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	// MaxTokens caps the completion length where the backend supports it (default: 4096)
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens"`

	Anthropic AnthropicConfig `mapstructure:"anthropic" yaml:"anthropic"`
	OpenAI    OpenAIConfig    `mapstructure:"openai" yaml:"openai"`
	Ollama    OllamaConfig    `mapstructure:"ollama" yaml:"ollama"`
	CLI       CLIConfig       `mapstructure:"cli" yaml:"cli"`
}

// AnthropicConfig holds Anthropic Messages API settings
type AnthropicConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// OpenAIConfig holds OpenAI API settings
type OpenAIConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// OllamaConfig holds the local Ollama server settings
type OllamaConfig struct {
	ServerURL string `mapstructure:"server_url" yaml:"server_url"`
}

// CLIConfig holds the command used by the claude-cli backend
type CLIConfig struct {
	// Command is the binary run in print mode with the prompt on stdin (default: "claude")
	Command string `mapstructure:"command" yaml:"command"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled turns on file logging (default: false)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the minimum log level (default: "info")
	// Options: "debug", "info", "warn", "error"
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is where patchloop.log is written; empty logs to stderr (default: ".patchloop")
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB is the maximum log file size before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
}

// MetricsConfig controls Prometheus metrics export
type MetricsConfig struct {
	// Textfile is a path the run's counters are written to in Prometheus text format.
	// Empty disables export.
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// TelemetryConfig controls OpenTelemetry tracing
type TelemetryConfig struct {
	// TraceFile receives spans as JSON lines. Empty disables tracing export.
	TraceFile string `mapstructure:"trace_file" yaml:"trace_file"`
}

// OutputConfig controls how the final result is rendered
type OutputConfig struct {
	// Format is "text", "json" or "yaml" (default: "text")
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Loop: LoopConfig{
			MaxIterations:       10,
			VerifyBudgetSeconds: 120,
			ContextMaxFiles:     50,
			ContextMaxChars:     8000,
		},
		Apply: ApplyConfig{
			PatchCommand:          "patch",
			Strip:                 1,
			TimeoutSeconds:        30,
			MaxChangesPerResponse: 0,
		},
		Verify: VerifyConfig{
			Commands:                 []string{},
			CIEnv:                    true,
			ExcerptChars:             2048,
			MinCommandTimeoutSeconds: 10,
		},
		AI: AIConfig{
			Backend:               "anthropic",
			Model:                 "",
			RequestTimeoutSeconds: 0,
			MaxTokens:             4096,
			Anthropic:             AnthropicConfig{BaseURL: "https://api.anthropic.com"},
			OpenAI:                OpenAIConfig{BaseURL: ""},
			Ollama:                OllamaConfig{ServerURL: "http://localhost:11434"},
			CLI:                   CLIConfig{Command: "claude"},
		},
		Logging: LoggingConfig{
			Enabled:    false,
			Level:      "info",
			Dir:        ".patchloop",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Metrics:   MetricsConfig{Textfile: ""},
		Telemetry: TelemetryConfig{TraceFile: ""},
		Output:    OutputConfig{Format: "text"},
	}
}

// VerifyBudget returns the verification budget as a time.Duration
func (c *LoopConfig) VerifyBudget() time.Duration {
	return time.Duration(c.VerifyBudgetSeconds) * time.Second
}

// Timeout returns the patch-tool timeout as a time.Duration
func (c *ApplyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MinCommandTimeout returns the per-command timeout floor as a time.Duration
func (c *VerifyConfig) MinCommandTimeout() time.Duration {
	return time.Duration(c.MinCommandTimeoutSeconds) * time.Second
}

// RequestTimeout returns the completion request timeout (0 means unbounded)
func (c *AIConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Loop defaults
	viper.SetDefault("loop.max_iterations", defaults.Loop.MaxIterations)
	viper.SetDefault("loop.verify_budget_seconds", defaults.Loop.VerifyBudgetSeconds)
	viper.SetDefault("loop.context_max_files", defaults.Loop.ContextMaxFiles)
	viper.SetDefault("loop.context_max_chars", defaults.Loop.ContextMaxChars)

	// Apply defaults
	viper.SetDefault("apply.patch_command", defaults.Apply.PatchCommand)
	viper.SetDefault("apply.strip", defaults.Apply.Strip)
	viper.SetDefault("apply.timeout_seconds", defaults.Apply.TimeoutSeconds)
	viper.SetDefault("apply.max_changes_per_response", defaults.Apply.MaxChangesPerResponse)

	// Verify defaults
	viper.SetDefault("verify.commands", defaults.Verify.Commands)
	viper.SetDefault("verify.ci_env", defaults.Verify.CIEnv)
	viper.SetDefault("verify.excerpt_chars", defaults.Verify.ExcerptChars)
	viper.SetDefault("verify.min_command_timeout_seconds", defaults.Verify.MinCommandTimeoutSeconds)

	// AI defaults
	viper.SetDefault("ai.backend", defaults.AI.Backend)
	viper.SetDefault("ai.model", defaults.AI.Model)
	viper.SetDefault("ai.request_timeout_seconds", defaults.AI.RequestTimeoutSeconds)
	viper.SetDefault("ai.max_tokens", defaults.AI.MaxTokens)
	viper.SetDefault("ai.anthropic.base_url", defaults.AI.Anthropic.BaseURL)
	viper.SetDefault("ai.openai.base_url", defaults.AI.OpenAI.BaseURL)
	viper.SetDefault("ai.ollama.server_url", defaults.AI.Ollama.ServerURL)
	viper.SetDefault("ai.cli.command", defaults.AI.CLI.Command)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Observability defaults
	viper.SetDefault("metrics.textfile", defaults.Metrics.Textfile)
	viper.SetDefault("telemetry.trace_file", defaults.Telemetry.TraceFile)

	// Output defaults
	viper.SetDefault("output.format", defaults.Output.Format)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "patchloop")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".patchloop"
	}
	return filepath.Join(home, ".config", "patchloop")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidBackends returns the supported completion backends
func ValidBackends() []string {
	return []string{"anthropic", "openai", "ollama", "claude-cli"}
}
