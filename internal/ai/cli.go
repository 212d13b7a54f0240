package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/patchloop/internal/errors"
	"github.com/Iron-Ham/patchloop/internal/logging"
	"github.com/Iron-Ham/patchloop/internal/process"
)

// CLIProvider runs a locally installed claude binary in print mode, passing
// the prompt on stdin.
type CLIProvider struct {
	command string
	model   string
	runner  process.Runner
	logger  *logging.Logger
}

// NewCLIProvider creates a CLI provider. An empty command defaults to "claude".
func NewCLIProvider(command, model string, runner process.Runner, logger *logging.Logger) *CLIProvider {
	if command == "" {
		command = "claude"
	}
	if runner == nil {
		runner = process.NewExecRunner()
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &CLIProvider{command: command, model: model, runner: runner, logger: logger}
}

// Name implements Provider.
func (c *CLIProvider) Name() BackendName { return BackendClaudeCLI }

// Args returns the arguments passed to the CLI binary.
func (c *CLIProvider) Args() []string {
	args := []string{"--print", "--output-format", "text"}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	return args
}

// Complete implements Provider. A non-zero exit is a provider failure.
func (c *CLIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	req := process.Request{Name: c.command, Args: c.Args(), Stdin: prompt}

	c.logger.Debug("running completion command", "command", req.String(), "prompt_chars", len(prompt))
	res, err := c.runner.Run(ctx, req)
	if err != nil {
		return "", errors.NewProviderError(string(BackendClaudeCLI), err)
	}
	if !res.Success() {
		return "", errors.NewProviderError(string(BackendClaudeCLI),
			fmt.Errorf("%s exited with status %d: %s", c.command, res.ExitCode, strings.TrimSpace(string(res.Stderr))))
	}
	return string(res.Stdout), nil
}
