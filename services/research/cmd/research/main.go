package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"copysensei/internal/servicetoken"
	"copysensei/internal/util"
	"copysensei/pkg/ai"
	"copysensei/pkg/functions"
	"copysensei/services/research/internal/app"
	"copysensei/services/research/internal/config"
	"copysensei/services/research/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	util.InitLogger(cfg.LogLevel, "research")

	gen, err := ai.NewChatGenerator(ai.ProviderConfig{
		Provider: cfg.Provider,
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
	}, ai.WithTemperature(cfg.Temperature), ai.WithTopP(cfg.TopP), ai.WithMaxTokens(cfg.MaxTokens))
	if err != nil {
		util.Fatal("failed to init generator", "err", err)
	}

	var pages app.SnapshotFetcher
	if !cfg.SkipPageSnapshot {
		timeout, _ := config.SnapshotTimeout(cfg)
		pages = app.NewPageFetcher(app.PageFetcherOptions{
			Timeout:              timeout,
			MaxBytes:             cfg.SnapshotMaxBytes,
			AllowPrivateNetworks: cfg.AllowPrivateNetworks,
		})
	}
	appCore, err := app.New(gen, pages)
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	var verifier *servicetoken.Verifier
	if cfg.ServiceTokenSecret != "" {
		verifier, err = servicetoken.NewVerifier(servicetoken.VerifierOptions{
			Secret:         cfg.ServiceTokenSecret,
			Audience:       functions.AudienceResearch,
			AllowedIssuers: cfg.AllowedIssuers,
		})
		if err != nil {
			util.Fatal("failed to init service token verifier", "err", err)
		}
	} else {
		slog.Warn("serviceTokenSecret not set, fetch-research accepts unauthenticated calls")
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.New(appCore, verifier).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	slog.Info("research server listening", "addr", addr, "model", cfg.Model, "page_snapshot", pages != nil)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Fatal("server error", "err", err)
	}
}
