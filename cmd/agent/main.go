package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Lvvv7/Intelligent-certificate/internal/api"
	"github.com/Lvvv7/Intelligent-certificate/internal/archive"
	"github.com/Lvvv7/Intelligent-certificate/internal/automation"
	"github.com/Lvvv7/Intelligent-certificate/internal/browser"
	"github.com/Lvvv7/Intelligent-certificate/internal/captcha"
	"github.com/Lvvv7/Intelligent-certificate/internal/catalog"
	"github.com/Lvvv7/Intelligent-certificate/internal/config"
	"github.com/Lvvv7/Intelligent-certificate/internal/printer"
	"github.com/Lvvv7/Intelligent-certificate/internal/ratelimit"
	"github.com/Lvvv7/Intelligent-certificate/internal/recognizer"
	"github.com/Lvvv7/Intelligent-certificate/internal/status"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	for _, dir := range []string{cfg.ImageDir, cfg.DownloadDir, cfg.ExtractPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("create directory", "dir", dir, "err", err)
			os.Exit(1)
		}
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Error("load catalog", "err", err)
		os.Exit(1)
	}

	store := status.New(cfg.SessionTimeout)
	solver := captcha.New(&recognizer.Exec{Command: cfg.RecognizerCmd}, cfg.ImageDir, cfg.MaxRetry, logger)
	dispatcher := printer.New(&printer.ExecSpooler{Command: cfg.PrintStatusCmd}, cfg.PrintHelper, cfg.PrintPollTimeout, logger)
	normalizer := archive.New(cfg.ArchiveEncoding, logger)
	runner := automation.New(cfg, store, cat, solver, dispatcher, normalizer, browser.NewFactory(cfg), logger)

	var limiter *ratelimit.TokenBucket
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter = ratelimit.New(client, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	server := api.New(cfg, store, cat, runner, limiter, logger)
	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: server.Router(),
	}

	logger.Info("agent listening", "addr", cfg.Addr(), "headless", cfg.Headless)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
