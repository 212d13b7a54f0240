package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Iron-Ham/patchloop/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify patchloop configuration",
	Long: `View or modify patchloop configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  patchloop config set loop.max_iterations 20
  patchloop config set ai.backend claude-cli
  patchloop config set verify.ci_env false

Run 'patchloop config show' to list every key with its current value.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/patchloop/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

// settableKeys lists the scalar keys accepted by `config set` and their types.
var settableKeys = map[string]string{
	"loop.max_iterations":                "int",
	"loop.verify_budget_seconds":         "int",
	"loop.context_max_files":             "int",
	"loop.context_max_chars":             "int",
	"apply.patch_command":                "string",
	"apply.strip":                        "int",
	"apply.timeout_seconds":              "int",
	"apply.max_changes_per_response":     "int",
	"verify.ci_env":                      "bool",
	"verify.excerpt_chars":               "int",
	"verify.min_command_timeout_seconds": "int",
	"ai.backend":                         "string",
	"ai.model":                           "string",
	"ai.request_timeout_seconds":         "int",
	"ai.max_tokens":                      "int",
	"ai.anthropic.base_url":              "string",
	"ai.openai.base_url":                 "string",
	"ai.ollama.server_url":               "string",
	"ai.cli.command":                     "string",
	"logging.enabled":                    "bool",
	"logging.level":                      "string",
	"logging.dir":                        "string",
	"logging.max_size_mb":                "int",
	"logging.max_backups":                "int",
	"metrics.textfile":                   "string",
	"telemetry.trace_file":               "string",
	"output.format":                      "string",
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return enc.Close()
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	keyType, ok := settableKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nValid keys: %s", key, strings.Join(sortedKeys(), ", "))
	}

	var typedValue any
	switch keyType {
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = b
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		typedValue = n
	default:
		typedValue = value
	}

	viper.Set(key, typedValue)
	if _, err := config.Load(); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'patchloop config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigFile), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Edit this file to customize patchloop's behavior.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintln(out, "  2. $HOME/.config/patchloop/config.yaml")
	fmt.Fprintln(out, "  3. ./config.yaml (current directory)")
	fmt.Fprintln(out, "\nEnvironment variables: PATCHLOOP_* (e.g., PATCHLOOP_LOOP_MAX_ITERATIONS)")
	return nil
}

func sortedKeys() []string {
	keys := make([]string, 0, len(settableKeys))
	for k := range settableKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

const defaultConfigFile = `# patchloop configuration

# Attempt loop
loop:
  # Attempts shared by all milestones of one run
  max_iterations: 10
  # Seconds for one verification pass, split across its commands
  verify_budget_seconds: 120
  # Code files listed as context in the prompts
  context_max_files: 50
  context_max_chars: 8000

# Applying proposed diffs
apply:
  patch_command: patch
  strip: 1
  timeout_seconds: 30
  # Diffs beyond this many in one response are skipped (0 = unlimited)
  max_changes_per_response: 0

# Verification commands (empty = choose from the repository's lockfiles)
verify:
  commands: []
  ci_env: true
  excerpt_chars: 2048
  min_command_timeout_seconds: 10

# Completion backend
# Options: anthropic, openai, ollama, claude-cli
ai:
  backend: anthropic
  model: ""
  # 0 leaves completion requests unbounded
  request_timeout_seconds: 0
  max_tokens: 4096
  anthropic:
    base_url: https://api.anthropic.com
  openai:
    base_url: ""
  ollama:
    server_url: http://localhost:11434
  cli:
    command: claude

# Debug logging (JSON lines in <dir>/patchloop.log)
logging:
  enabled: false
  level: info
  dir: .patchloop
  max_size_mb: 10
  max_backups: 3

# Prometheus textfile written at the end of each run (empty disables)
metrics:
  textfile: ""

# OpenTelemetry spans appended as JSON (empty disables)
telemetry:
  trace_file: ""

# Result format: text, json, yaml
output:
  format: text
`
