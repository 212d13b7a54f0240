package ai

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/Iron-Ham/patchloop/internal/errors"
	"github.com/Iron-Ham/patchloop/internal/logging"
)

// OllamaProvider talks to a local Ollama server through langchaingo.
type OllamaProvider struct {
	llm       *ollama.LLM
	maxTokens int
	logger    *logging.Logger
}

// NewOllamaProvider creates a provider for the Ollama server at serverURL.
func NewOllamaProvider(serverURL, model string, maxTokens int, logger *logging.Logger) (*OllamaProvider, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, errors.NewProviderError(string(BackendOllama), err).WithMessage("failed to create ollama client")
	}

	return &OllamaProvider{llm: llm, maxTokens: maxTokens, logger: logger}, nil
}

// Name implements Provider.
func (p *OllamaProvider) Name() BackendName { return BackendOllama }

// Complete implements Provider.
func (p *OllamaProvider) Complete(ctx context.Context, prompt string) (string, error) {
	p.logger.Debug("sending completion request", "prompt_chars", len(prompt))
	text, err := llms.GenerateFromSinglePrompt(ctx, p.llm, prompt, llms.WithMaxTokens(p.maxTokens))
	if err != nil {
		return "", errors.NewProviderError(string(BackendOllama), err)
	}
	return text, nil
}
