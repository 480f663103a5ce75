package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-tavern/relaybot/internal/config"
)

// ChainClient runs completions through an eino chain: chat template then
// chat model.
type ChainClient struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger *slog.Logger
}

// NewArkClient creates the Volcengine Ark chat model and wraps it in a chain.
func NewArkClient(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (*ChainClient, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewChainClient(ctx, chatModel, logger)
}

// NewChainClient compiles a system+user prompt chain around chatModel.
func NewChainClient(ctx context.Context, chatModel model.BaseChatModel, logger *slog.Logger) (*ChainClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ChainClient{
		chain:  runnable,
		logger: logger.With("component", "chain"),
	}, nil
}

// Complete runs the chain once. Backend errors are transport failures.
func (c *ChainClient) Complete(ctx context.Context, systemPrompt, userContent string) (string, error) {
	response, err := c.chain.Invoke(ctx, map[string]any{
		"system": systemPrompt,
		"query":  userContent,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run completion chain: %w", err)
	}
	if response == nil {
		return "", ErrEmptyCompletion
	}

	c.logger.Debug("completion received", "length", len(response.Content))
	return response.Content, nil
}
