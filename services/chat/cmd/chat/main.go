package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"copysensei/internal/ratelimit"
	"copysensei/internal/servicetoken"
	"copysensei/internal/usertoken"
	"copysensei/internal/util"
	"copysensei/pkg/classify"
	"copysensei/pkg/events"
	"copysensei/pkg/functions"
	"copysensei/pkg/localcache"
	"copysensei/pkg/queue"
	"copysensei/pkg/storage"
	"copysensei/services/chat/internal/app"
	"copysensei/services/chat/internal/config"
	"copysensei/services/chat/internal/server"
)

const defaultQueueStream = "copysensei:research:jobs"

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel, "chat")

	jwtLeeway, err := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)
	if err != nil {
		util.Fatal("failed to parse jwt leeway", "err", err)
	}
	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		Secret:     cfg.JWTSecret,
		JWKSURL:    cfg.JWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		util.Fatal("failed to init token verifier", "err", err)
	}

	cacheTTL, _ := config.ParseDuration("cacheTTL", cfg.CacheTTL)
	var backend localcache.Backend = localcache.NewMemoryBackend()
	if cfg.RedisAddr != "" {
		redisBackend, err := localcache.NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cacheTTL)
		if err != nil {
			util.Fatal("failed to init redis cache", "err", err)
		}
		defer redisBackend.Close()
		backend = redisBackend
	} else {
		slog.Warn("redisAddr not set, local cache is in-process only")
	}
	cache := localcache.New(backend, cfg.CachePrefix)

	var signer functions.TokenSigner
	if cfg.ServiceTokenSecret != "" {
		s, err := servicetoken.NewSigner(servicetoken.SignerOptions{
			Secret: cfg.ServiceTokenSecret,
			Issuer: orDefault(cfg.ServiceTokenIssuer, "chat"),
		})
		if err != nil {
			util.Fatal("failed to init service token signer", "err", err)
		}
		signer = s
	}
	copyClient := functions.NewCopyClient(cfg.CopyServiceURL, signer, time.Duration(cfg.CopyTimeoutSeconds)*time.Second)
	var researchClient app.ResearchFetcher
	if cfg.ResearchServiceURL != "" {
		researchClient = functions.NewResearchClient(cfg.ResearchServiceURL, signer, time.Duration(cfg.ResearchTimeoutSeconds)*time.Second)
	}

	var jobQueue app.ResearchQueue
	if cfg.QueueEnabled {
		q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     orDefault(cfg.QueueStream, defaultQueueStream),
			Group:      cfg.QueueGroup,
			MaxRetries: cfg.QueueMaxRetries,
		})
		if err != nil {
			util.Fatal("failed to init research queue", "err", err)
		}
		defer q.Close()
		jobQueue = q
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		m, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			util.Fatal("failed to init object storage", "err", err)
		}
		objects = m
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			util.Fatal("failed to init event publisher", "err", err)
		}
		publisher = p
	}
	defer publisher.Close()

	policy, err := classify.ParsePolicy(cfg.LowValuePolicy)
	if err != nil {
		util.Fatal("invalid low-value policy", "err", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:    cfg.DatabaseURL,
		Cache:          cache,
		Copy:           copyClient,
		Research:       researchClient,
		Queue:          jobQueue,
		Objects:        objects,
		Events:         publisher,
		DefaultCredits: cfg.DefaultCredits,
		HistoryLimit:   cfg.HistoryLimit,
		LowValuePolicy: policy,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	var sendLimiter server.Limiter
	if cfg.SendRateLimitPerMinute > 0 {
		var limiter *ratelimit.FixedWindowLimiter
		if cfg.RedisAddr != "" {
			limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", cfg.SendRateLimitPerMinute, time.Minute)
		} else {
			limiter, err = ratelimit.NewMemoryFixedWindowLimiter(cfg.SendRateLimitPerMinute, time.Minute)
		}
		if err != nil {
			util.Fatal("failed to init send rate limiter", "err", err)
		}
		defer limiter.Close()
		sendLimiter = limiter
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		util.Fatal("invalid trusted proxies", "err", err)
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		TokenVerifier:  tokenVerifier,
		SendLimiter:    sendLimiter,
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: trustedProxies,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if jobQueue != nil {
		g.Go(func() error {
			if err := appCore.StartResearchWorker(gctx, cfg.QueueConcurrency); err != nil {
				return err
			}
			slog.Info("research worker started", "concurrency", cfg.QueueConcurrency)
			return nil
		})
	}
	g.Go(func() error {
		slog.Info("chat server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
