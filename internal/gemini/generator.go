package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/blackmichael/social-scheduler/internal/domain"
)

const (
	DefaultModel       = "gemini-2.5-flash"
	defaultTemperature = 0.7
	defaultMaxTokens   = 1024
)

// Config configures a Generator.
type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the API endpoint, for tests.
	BaseURL string
}

// Generator implements domain.TextGenerator with the Gemini API.
type Generator struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
	logger *slog.Logger
}

var _ domain.TextGenerator = (*Generator)(nil)

// NewGenerator creates a Generator. The API key is required.
func NewGenerator(ctx context.Context, cfg Config, logger *slog.Logger) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	temperature := float32(defaultTemperature)
	return &Generator{
		client: client,
		model:  cfg.Model,
		config: &genai.GenerateContentConfig{
			Temperature:     &temperature,
			MaxOutputTokens: defaultMaxTokens,
		},
		logger: logger,
	}, nil
}

// GenerateText returns the model's reply to prompt, trimmed.
func (g *Generator) GenerateText(ctx context.Context, prompt string) (string, error) {
	g.logger.Info("generating text", "model", g.model, "prompt_chars", len(prompt))

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), g.config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w: %w", domain.ErrDelivery, err)
	}

	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("generate content: %w: no candidates returned", domain.ErrDelivery)
	}

	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("generate content: %w: empty response", domain.ErrDelivery)
	}
	return text, nil
}
