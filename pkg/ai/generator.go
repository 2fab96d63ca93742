package ai

import (
	"context"
	"fmt"
	"strings"
)

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (Gemini, Ollama, OpenAI-compatible) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Message is one turn of a multi-turn conversation. Role is "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatGenerator continues a conversation under a system prompt.
type ChatGenerator interface {
	TextGenerator
	GenerateChat(ctx context.Context, systemPrompt string, messages []Message) (string, error)
}

// Options tunes sampling. Zero values leave the provider default.
type Options struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   int
}

// Option mutates Options.
type Option func(*Options)

// WithTemperature sets the sampling temperature.
func WithTemperature(v float64) Option {
	return func(o *Options) { o.Temperature = &v }
}

// WithTopP sets nucleus sampling.
func WithTopP(v float64) Option {
	return func(o *Options) { o.TopP = &v }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = n }
}

func applyOptions(opts []Option) Options {
	var out Options
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	return out
}

// ProviderConfig selects and configures one LLM backend.
type ProviderConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
}

// NewChatGenerator builds the generator named by cfg.Provider:
// "openai-compat" (default), "gemini" or "ollama".
func NewChatGenerator(cfg ProviderConfig, opts ...Option) (ChatGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai", "openai-compat", "perplexity":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("openai-compat base url required")
		}
		return NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model, opts...), nil
	case "gemini":
		client, err := NewGeminiClient(cfg.APIKey)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(cfg.BaseURL) != "" {
			client.baseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
		}
		return NewGeminiGenerator(client, cfg.Model, opts...), nil
	case "ollama":
		return NewOllamaGenerator(NewOllamaClient(cfg.BaseURL), cfg.Model, opts...), nil
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", cfg.Provider)
	}
}
