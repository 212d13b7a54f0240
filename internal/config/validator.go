package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "loop.max_iterations")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidOutputFormats returns the list of valid result output formats
func ValidOutputFormats() []string {
	return []string{"text", "json", "yaml"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateLoop()...)
	errors = append(errors, c.validateApply()...)
	errors = append(errors, c.validateVerify()...)
	errors = append(errors, c.validateAI()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateOutput()...)

	return errors
}

func positive(field string, v int) []ValidationError {
	if v > 0 {
		return nil
	}
	return []ValidationError{{Field: field, Value: v, Message: "must be positive"}}
}

func nonNegative(field string, v int) []ValidationError {
	if v >= 0 {
		return nil
	}
	return []ValidationError{{Field: field, Value: v, Message: "must be non-negative"}}
}

func (c *Config) validateLoop() []ValidationError {
	var errors []ValidationError
	errors = append(errors, positive("loop.max_iterations", c.Loop.MaxIterations)...)
	errors = append(errors, positive("loop.verify_budget_seconds", c.Loop.VerifyBudgetSeconds)...)
	errors = append(errors, positive("loop.context_max_files", c.Loop.ContextMaxFiles)...)
	errors = append(errors, positive("loop.context_max_chars", c.Loop.ContextMaxChars)...)
	return errors
}

func (c *Config) validateApply() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Apply.PatchCommand) == "" {
		errors = append(errors, ValidationError{
			Field:   "apply.patch_command",
			Value:   c.Apply.PatchCommand,
			Message: "must not be empty",
		})
	}
	errors = append(errors, nonNegative("apply.strip", c.Apply.Strip)...)
	errors = append(errors, positive("apply.timeout_seconds", c.Apply.TimeoutSeconds)...)
	errors = append(errors, nonNegative("apply.max_changes_per_response", c.Apply.MaxChangesPerResponse)...)

	return errors
}

func (c *Config) validateVerify() []ValidationError {
	var errors []ValidationError

	for i, cmd := range c.Verify.Commands {
		if strings.TrimSpace(cmd) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("verify.commands[%d]", i),
				Value:   cmd,
				Message: "must not be empty",
			})
		}
	}

	// The excerpt must leave room for the truncation marker.
	const minExcerpt = 64
	if c.Verify.ExcerptChars < minExcerpt {
		errors = append(errors, ValidationError{
			Field:   "verify.excerpt_chars",
			Value:   c.Verify.ExcerptChars,
			Message: fmt.Sprintf("must be at least %d", minExcerpt),
		})
	}
	errors = append(errors, positive("verify.min_command_timeout_seconds", c.Verify.MinCommandTimeoutSeconds)...)

	return errors
}

func (c *Config) validateAI() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidBackends(), c.AI.Backend) {
		errors = append(errors, ValidationError{
			Field:   "ai.backend",
			Value:   c.AI.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}
	errors = append(errors, nonNegative("ai.request_timeout_seconds", c.AI.RequestTimeoutSeconds)...)
	errors = append(errors, positive("ai.max_tokens", c.AI.MaxTokens)...)

	if c.AI.Backend == "claude-cli" && strings.TrimSpace(c.AI.CLI.Command) == "" {
		errors = append(errors, ValidationError{
			Field:   "ai.cli.command",
			Value:   c.AI.CLI.Command,
			Message: "must not be empty when backend is claude-cli",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	errors = append(errors, positive("logging.max_size_mb", c.Logging.MaxSizeMB)...)

	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	errors = append(errors, nonNegative("logging.max_backups", c.Logging.MaxBackups)...)

	return errors
}

func (c *Config) validateOutput() []ValidationError {
	if slices.Contains(ValidOutputFormats(), c.Output.Format) {
		return nil
	}
	return []ValidationError{{
		Field:   "output.format",
		Value:   c.Output.Format,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidOutputFormats(), ", ")),
	}}
}
