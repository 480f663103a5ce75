package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/zhouzirui/z-tavern/relaybot/internal/config"
)

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint
// (OpenRouter by default).
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIClient builds a client from the completion configuration.
func NewOpenAIClient(cfg config.CompletionConfig, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger.With("component", "openai"),
	}
}

// Complete sends one system message and one user message and returns the
// content of the first choice verbatim.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userContent string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userContent},
		},
	})
	if err != nil {
		return "", classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	content := resp.Choices[0].Message.Content
	c.logger.Debug("completion received", "model", c.model, "length", len(content))
	return content, nil
}

// classifyError turns go-openai status errors into *StatusError. Network and
// decoding failures are returned wrapped as they are.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &StatusError{
			StatusCode: apiErr.HTTPStatusCode,
			Detail:     apiErr.Message,
			Decoded:    true,
			Err:        err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		detail, decoded := extractErrorDetail(reqErr.Body)
		return &StatusError{
			StatusCode: reqErr.HTTPStatusCode,
			Detail:     detail,
			Decoded:    decoded,
			Err:        err,
		}
	}

	return fmt.Errorf("completion request failed: %w", err)
}

// extractErrorDetail reads the "error" field of a JSON error body. A string
// is used as is, an object contributes its "message" or its compact JSON.
func extractErrorDetail(body []byte) (string, bool) {
	if len(body) == 0 {
		return "", false
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", false
	}

	raw, ok := payload["error"]
	if !ok || string(raw) == "null" {
		return "", true
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, true
	}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message, true
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		return buf.String(), true
	}
	return string(raw), true
}
