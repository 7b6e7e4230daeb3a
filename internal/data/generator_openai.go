package data

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
)

// OpenAIConfig configures an OpenAI-compatible chat completion backend
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // Empty for api.openai.com; Moonshot, DeepSeek etc. expose the same API
	Model      string
	MaxTokens  int
	MaxRetries int
	RetryDelay time.Duration
}

// openAIGenerator implements ReplyGenerator over go-openai
type openAIGenerator struct {
	client     *openai.Client
	model      string
	maxTokens  int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewOpenAIGenerator creates an OpenAI-compatible reply generator
func NewOpenAIGenerator(cfg OpenAIConfig, logger *zap.Logger) (repo.ReplyGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 150
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &openAIGenerator{
		client:     openai.NewClientWithConfig(config),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger.Named("openai"),
	}, nil
}

// Generate produces a reply from the rendered prompt
func (g *openAIGenerator) Generate(ctx context.Context, req repo.GenerateRequest) (string, error) {
	return g.chat(ctx, req.Prompt, 0.7)
}

// Complete runs a free-form prompt
func (g *openAIGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	return g.chat(ctx, prompt, 0.3)
}

func (g *openAIGenerator) chat(ctx context.Context, prompt string, temperature float32) (string, error) {
	var lastErr error
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		if attempt > 0 {
			g.logger.Warn("Retrying chat completion", zap.Int("attempt", attempt+1), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(g.retryDelay):
			}
		}

		resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: g.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature: temperature,
			MaxTokens:   g.maxTokens,
		})
		if err != nil {
			lastErr = fmt.Errorf("chat completion: %w", err)
			if ctx.Err() != nil {
				return "", lastErr
			}
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("no response choices")
			continue
		}
		text := strings.TrimSpace(resp.Choices[0].Message.Content)
		if text == "" {
			lastErr = fmt.Errorf("empty response content")
			continue
		}
		return text, nil
	}
	return "", lastErr
}
