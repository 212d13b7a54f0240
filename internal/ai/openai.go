package ai

import (
	"context"
	"fmt"
	"os"

	"github.com/sashabaranov/go-openai"

	"github.com/Iron-Ham/patchloop/internal/errors"
	"github.com/Iron-Ham/patchloop/internal/logging"
)

// OpenAIProvider uses the OpenAI chat completions API.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *logging.Logger
}

// NewOpenAIProvider creates a provider using the OPENAI_API_KEY env var.
// An empty baseURL uses the public API.
func NewOpenAIProvider(baseURL, model string, maxTokens int, logger *logging.Logger) (*OpenAIProvider, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.NewValidationError("OPENAI_API_KEY environment variable not set").WithField("OPENAI_API_KEY")
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: maxTokens,
		logger:    logger,
	}, nil
}

// Name implements Provider.
func (o *OpenAIProvider) Name() BackendName { return BackendOpenAI }

// Complete sends prompt as a single user message.
func (o *OpenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxCompletionTokens: o.maxTokens,
	}

	o.logger.Debug("sending completion request", "prompt_chars", len(prompt))
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		perr := errors.NewProviderError(string(BackendOpenAI), err)
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			perr = perr.WithStatusCode(apiErr.HTTPStatusCode)
		}
		return "", perr
	}

	if len(resp.Choices) == 0 {
		return "", errors.NewProviderError(string(BackendOpenAI), fmt.Errorf("no choices returned"))
	}
	o.logger.Debug("received completion", "finish_reason", string(resp.Choices[0].FinishReason))
	return resp.Choices[0].Message.Content, nil
}
