package data

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
)

// GeminiConfig configures the Gemini backend
type GeminiConfig struct {
	APIKey     string
	Model      string // Default: "gemini-2.0-flash"
	MaxRetries int
	RetryDelay time.Duration
}

// GeminiGenerator implements ReplyGenerator over the Gemini API
type GeminiGenerator struct {
	client     *genai.Client
	model      *genai.GenerativeModel
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewGeminiGenerator creates a Gemini reply generator. Close releases the client.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.7),
		MaxOutputTokens: genai.Ptr[int32](200),
	}

	logger = logger.Named("gemini")
	logger.Info("Gemini client initialized", zap.String("model", cfg.Model), zap.Int("max_retries", cfg.MaxRetries))

	return &GeminiGenerator{
		client:     client,
		model:      model,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}, nil
}

var _ repo.ReplyGenerator = (*GeminiGenerator)(nil)

// Close closes the Gemini client
func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

// Generate produces a reply from the rendered prompt
func (g *GeminiGenerator) Generate(ctx context.Context, req repo.GenerateRequest) (string, error) {
	return g.generate(ctx, req.Prompt)
}

// Complete runs a free-form prompt
func (g *GeminiGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	return g.generate(ctx, prompt)
}

func (g *GeminiGenerator) generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		if attempt > 0 {
			g.logger.Warn("Retrying Gemini request", zap.Int("attempt", attempt+1), zap.Int("max_retries", g.maxRetries))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(g.retryDelay):
			}
		}

		resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			lastErr = fmt.Errorf("gemini API error: %w", err)
			g.logger.Error("Gemini API error", zap.Error(err), zap.Int("attempt", attempt+1))
			if ctx.Err() != nil {
				return "", lastErr
			}
			continue
		}

		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			lastErr = fmt.Errorf("empty response from gemini")
			continue
		}

		var b strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		if out := strings.TrimSpace(b.String()); out != "" {
			return out, nil
		}
		lastErr = fmt.Errorf("unexpected response type from gemini")
	}
	return "", lastErr
}
