// Package ai implements the completion providers the loop sends plan and
// patch prompts to. Every backend turns one prompt string into one response
// string; transport failures come back as *errors.ProviderError.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/patchloop/internal/config"
	"github.com/Iron-Ham/patchloop/internal/errors"
	"github.com/Iron-Ham/patchloop/internal/logging"
	"github.com/Iron-Ham/patchloop/internal/process"
)

// BackendName identifies a supported completion backend.
type BackendName string

const (
	BackendAnthropic BackendName = "anthropic"
	BackendOpenAI    BackendName = "openai"
	BackendOllama    BackendName = "ollama"
	BackendClaudeCLI BackendName = "claude-cli"
)

// Provider turns a prompt into model-generated text.
type Provider interface {
	Name() BackendName
	Complete(ctx context.Context, prompt string) (string, error)
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(backend BackendName) string {
	switch backend {
	case BackendOpenAI:
		return "gpt-4o"
	case BackendOllama:
		return "llama3.1"
	case BackendClaudeCLI:
		return ""
	default:
		return "claude-sonnet-4-20250514"
	}
}

type options struct {
	logger *logging.Logger
	runner process.Runner
}

// Option configures provider construction.
type Option func(*options)

// WithLogger sets the logger used by the provider.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRunner sets the process runner used by the claude-cli backend.
func WithRunner(r process.Runner) Option {
	return func(o *options) {
		if r != nil {
			o.runner = r
		}
	}
}

// New builds the provider selected by cfg.Backend. A positive request timeout
// bounds every Complete call; otherwise calls are bounded only by ctx.
func New(cfg config.AIConfig, opts ...Option) (Provider, error) {
	o := options{logger: logging.NopLogger(), runner: process.NewExecRunner()}
	for _, opt := range opts {
		opt(&o)
	}

	backend := BackendName(strings.ToLower(cfg.Backend))
	if backend == "" {
		backend = BackendAnthropic
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel(backend)
	}
	log := o.logger.With("backend", string(backend), "model", model)

	var (
		p   Provider
		err error
	)
	switch backend {
	case BackendAnthropic:
		p, err = NewAnthropicProvider(cfg.Anthropic.BaseURL, model, cfg.MaxTokens, log)
	case BackendOpenAI:
		p, err = NewOpenAIProvider(cfg.OpenAI.BaseURL, model, cfg.MaxTokens, log)
	case BackendOllama:
		p, err = NewOllamaProvider(cfg.Ollama.ServerURL, model, cfg.MaxTokens, log)
	case BackendClaudeCLI:
		p = NewCLIProvider(cfg.CLI.Command, model, o.runner, log)
	default:
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if d := cfg.RequestTimeout(); d > 0 {
		p = WithTimeout(p, d)
	}
	return p, nil
}

// WithTimeout wraps p so each Complete call runs under its own deadline.
func WithTimeout(p Provider, d time.Duration) Provider {
	return &timeoutProvider{inner: p, timeout: d}
}

type timeoutProvider struct {
	inner   Provider
	timeout time.Duration
}

func (t *timeoutProvider) Name() BackendName { return t.inner.Name() }

func (t *timeoutProvider) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	text, err := t.inner.Complete(ctx, prompt)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return "", errors.NewProviderError(string(t.inner.Name()),
			errors.NewTimeoutError("completion request", t.timeout))
	}
	return text, err
}
