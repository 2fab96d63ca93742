package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"copysensei/pkg/ai"
	"copysensei/pkg/docparse"
	"copysensei/pkg/functions"
)

// SnapshotFetcher reduces a live page to its marketing outline.
type SnapshotFetcher interface {
	Snapshot(ctx context.Context, rawURL string) (docparse.Snapshot, error)
}

// App answers fetch-research requests.
type App struct {
	gen   ai.TextGenerator
	pages SnapshotFetcher
}

// New constructs the app. pages may be nil to skip page snapshots.
func New(gen ai.TextGenerator, pages SnapshotFetcher) (*App, error) {
	if gen == nil {
		return nil, errors.New("generator required")
	}
	return &App{gen: gen, pages: pages}, nil
}

// Research asks the model for a structured brief on req.WebsiteURL and
// returns the JSON object it produced, or the raw reply if none parses.
func (a *App) Research(ctx context.Context, req functions.ResearchRequest) (string, error) {
	target, err := normalizeURL(req.WebsiteURL)
	if err != nil {
		return "", err
	}
	logger := slog.With("website", target)

	var snap docparse.Snapshot
	if a.pages != nil {
		snap, err = a.pages.Snapshot(ctx, target)
		if err != nil {
			logger.Warn("page snapshot unavailable", "err", err)
			snap = docparse.Snapshot{}
		}
	}

	reply, err := a.gen.GenerateText(ctx, systemInstruction, BuildPrompt(target, req.ProjectName, snap))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResearchFailed, err)
	}
	data, ok := ExtractJSON(reply)
	if data == "" {
		return "", fmt.Errorf("%w: empty reply", ErrResearchFailed)
	}
	if !ok {
		logger.Warn("research reply is not valid JSON, returning raw text", "chars", len(data))
	}
	return data, nil
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrInvalidURL
	}
	return u.String(), nil
}
