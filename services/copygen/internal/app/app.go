package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"copysensei/pkg/ai"
	"copysensei/pkg/functions"
)

// App turns generate-copy requests into LLM calls.
type App struct {
	gen ai.ChatGenerator
}

// New constructs the app around a chat-capable generator.
func New(gen ai.ChatGenerator) (*App, error) {
	if gen == nil {
		return nil, errors.New("generator required")
	}
	return &App{gen: gen}, nil
}

// Generate builds the system prompt from req.Context and asks the model for
// a reply. A non-empty Messages list wins over Prompt.
func (a *App) Generate(ctx context.Context, req functions.CopyRequest) (string, error) {
	history := conversation(req)
	if len(history) == 0 {
		return "", ErrInvalidRequest
	}
	reply, err := a.gen.GenerateChat(ctx, BuildSystemPrompt(req.Context), history)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply", ErrGenerationFailed)
	}
	return reply, nil
}

// conversation keeps user and assistant turns only; callers cannot inject
// their own system instructions.
func conversation(req functions.CopyRequest) []ai.Message {
	out := make([]ai.Message, 0, len(req.Messages)+1)
	for _, m := range req.Messages {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role != "user" && role != "assistant" {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		out = append(out, ai.Message{Role: role, Content: content})
	}
	if len(out) > 0 {
		return out
	}
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		out = append(out, ai.Message{Role: "user", Content: prompt})
	}
	return out
}
