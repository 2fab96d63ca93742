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
	"copysensei/services/copygen/internal/app"
	"copysensei/services/copygen/internal/config"
	"copysensei/services/copygen/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	util.InitLogger(cfg.LogLevel, "copygen")

	gen, err := ai.NewChatGenerator(ai.ProviderConfig{
		Provider: cfg.Provider,
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
	}, ai.WithTemperature(cfg.Temperature), ai.WithMaxTokens(cfg.MaxTokens))
	if err != nil {
		util.Fatal("failed to init generator", "err", err)
	}
	appCore, err := app.New(gen)
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	var verifier *servicetoken.Verifier
	if cfg.ServiceTokenSecret != "" {
		verifier, err = servicetoken.NewVerifier(servicetoken.VerifierOptions{
			Secret:         cfg.ServiceTokenSecret,
			Audience:       functions.AudienceCopy,
			AllowedIssuers: cfg.AllowedIssuers,
		})
		if err != nil {
			util.Fatal("failed to init service token verifier", "err", err)
		}
	} else {
		slog.Warn("serviceTokenSecret not set, generate-copy accepts unauthenticated calls")
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.New(appCore, verifier).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 130 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	slog.Info("copygen server listening", "addr", addr, "provider", cfg.Provider, "model", cfg.Model)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Fatal("server error", "err", err)
	}
}
