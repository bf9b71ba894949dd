package ai

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiClient is the alternate completer backed by the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

var _ ChatCompleter = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini client. An empty apiKey lets the SDK read
// GEMINI_API_KEY / GOOGLE_API_KEY from the environment.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	return NewGeminiClientWithConfig(ctx, cfg, model)
}

// NewGeminiClientWithConfig creates a Gemini client from a full SDK config,
// e.g. to point HTTPOptions.BaseURL at a proxy.
func NewGeminiClientWithConfig(ctx context.Context, cfg *genai.ClientConfig, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Complete implements ChatCompleter. The per-request model is ignored since
// Groq model names mean nothing to Gemini; images are referenced by URL in
// the prompt text.
func (g *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	prompt := req.Prompt
	if req.ImageURL != "" {
		prompt += "\n\nChat screenshot: " + req.ImageURL
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	return result.Text(), nil
}
