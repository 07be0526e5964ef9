package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"coursecache/internal/ratelimit"
	"coursecache/internal/servicetoken"
	"coursecache/internal/util"
	"coursecache/services/syncd/internal/app"
	"coursecache/services/syncd/internal/config"
	"coursecache/services/syncd/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	cacheTTL, err := config.ParseCacheTTL(cfg.CacheTTL)
	if err != nil {
		util.Fatal("failed to parse cache ttl", "err", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:    cfg.DatabaseURL,
		CanvasBaseURL:  cfg.CanvasBaseURL,
		CanvasToken:    cfg.CanvasToken,
		UserID:         cfg.UserID,
		ActAsUserID:    cfg.ActAsUserID,
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
		CacheTTL:       cacheTTL,
		AMQPURL:        cfg.AMQPURL,
		AMQPExchange:   cfg.AMQPExchange,
		UploadStream:   cfg.UploadStream,
		UploadGroup:    cfg.UploadGroup,
		UploadWorkers:  cfg.UploadWorkers,
		StagingDir:     cfg.StagingDir,
		MinioEndpoint:  cfg.MinioEndpoint,
		MinioAccessKey: cfg.MinioAccessKey,
		MinioSecretKey: cfg.MinioSecretKey,
		MinioBucket:    cfg.MinioBucket,
		MinioUseSSL:    cfg.MinioUseSSL,
		Logger:         logger,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}
	defer appCore.Close()

	var verifier *servicetoken.Verifier
	if cfg.ServiceJWTPublicKey != "" {
		verifier, err = servicetoken.NewVerifierWithOptions(servicetoken.VerifierOptions{
			PublicKeyPath:  cfg.ServiceJWTPublicKey,
			Audience:       cfg.ServiceJWTAudience,
			AllowedIssuers: cfg.ServiceJWTIssuers,
		})
		if err != nil {
			util.Fatal("failed to init service token verifier", "err", err)
		}
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" && cfg.RefreshRateLimit > 0 {
		window, err := config.ParseRefreshWindow(cfg.RefreshRateWin)
		if err != nil {
			util.Fatal("failed to parse refresh rate window", "err", err)
		}
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "coursecache:ratelimit",
			cfg.RefreshRateLimit, window)
		if err != nil {
			util.Fatal("failed to init force-refresh limiter", "err", err)
		}
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		util.Fatal("failed to parse trusted proxies", "err", err)
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		TokenVerifier:  verifier,
		ForceLimiter:   limiter,
		TrustedProxies: trusted,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("syncd listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return appCore.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("server error", "err", err)
	}
}
