package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/Iron-Ham/patchloop/internal/errors"
	"github.com/Iron-Ham/patchloop/internal/logging"
)

const (
	defaultAnthropicURL = "https://api.anthropic.com"
	anthropicVersion    = "2023-06-01"
)

// AnthropicProvider calls the Anthropic Messages API directly.
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
	logger     *logging.Logger
}

// NewAnthropicProvider creates a provider using the ANTHROPIC_API_KEY env var.
func NewAnthropicProvider(baseURL, model string, maxTokens int, logger *logging.Logger) (*AnthropicProvider, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.NewValidationError("ANTHROPIC_API_KEY environment variable not set").WithField("ANTHROPIC_API_KEY")
	}
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	return &AnthropicProvider{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		maxTokens:  maxTokens,
		httpClient: &http.Client{},
		logger:     logger,
	}, nil
}

// messagesRequest is the Anthropic Messages API request structure.
type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messagesResponse is the Anthropic Messages API response structure.
type messagesResponse struct {
	Content []contentBlock `json:"content"`
	Error   *apiError      `json:"error,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Name implements Provider.
func (c *AnthropicProvider) Name() BackendName { return BackendAnthropic }

// Complete sends prompt as a single user message and joins the text blocks
// of the reply.
func (c *AnthropicProvider) Complete(ctx context.Context, prompt string) (string, error) {
	reqBytes, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", c.fail(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(reqBytes))
	if err != nil {
		return "", c.fail(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	c.logger.Debug("sending completion request", "prompt_chars", len(prompt))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", c.fail(fmt.Errorf("send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", c.fail(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", errors.NewProviderError(string(BackendAnthropic),
			fmt.Errorf("API error: %s", truncateBody(body))).WithStatusCode(resp.StatusCode)
	}

	var respData messagesResponse
	if err := json.Unmarshal(body, &respData); err != nil {
		return "", c.fail(fmt.Errorf("unmarshal response: %w", err))
	}
	if respData.Error != nil {
		return "", c.fail(fmt.Errorf("API error: %s", respData.Error.Message))
	}

	var sb strings.Builder
	for _, block := range respData.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	c.logger.Debug("received completion", "response_chars", sb.Len())
	return sb.String(), nil
}

func (c *AnthropicProvider) fail(err error) error {
	return errors.NewProviderError(string(BackendAnthropic), err)
}

func truncateBody(body []byte) string {
	const max = 300
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
