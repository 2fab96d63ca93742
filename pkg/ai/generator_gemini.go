package ai

import "context"

// GeminiGenerator wraps GeminiClient with a fixed model and sampling options.
type GeminiGenerator struct {
	client *GeminiClient
	model  string
	opts   Options
}

// NewGeminiGenerator builds a Gemini-based ChatGenerator.
func NewGeminiGenerator(client *GeminiClient, model string, opts ...Option) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: model, opts: applyOptions(opts)}
}

// GenerateText implements TextGenerator using Gemini.
func (g *GeminiGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.GenerateChat(ctx, systemPrompt, []Message{{Role: "user", Content: userPrompt}})
}

// GenerateChat implements ChatGenerator using Gemini.
func (g *GeminiGenerator) GenerateChat(ctx context.Context, systemPrompt string, history []Message) (string, error) {
	return g.client.GenerateContent(ctx, g.model, systemPrompt, history, g.opts)
}
