package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/postwing/postwing/internal/api"
	"github.com/postwing/postwing/internal/browser"
	"github.com/postwing/postwing/internal/config"
	"github.com/postwing/postwing/internal/contentgen"
	"github.com/postwing/postwing/internal/dispatch"
	"github.com/postwing/postwing/internal/logging"
	"github.com/postwing/postwing/internal/ratelimit"
	"github.com/postwing/postwing/internal/relay"
	"github.com/postwing/postwing/internal/store"
	"github.com/postwing/postwing/internal/vault"
)

const schedulerInterval = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logging.New(cfg.JSONLogs)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("starting postwing server")

	if len(cfg.EncryptionKey) == 0 {
		log.Fatal("ENCRYPTION_KEY is required")
	}
	v, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		log.Fatalw("vault init failed", "error", err)
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalw("database open failed", "error", err)
	}
	defer db.Close()
	jobs := store.NewJobStore(db)
	accounts := store.NewAccountStore(db)
	log.Infow("database ready", "path", cfg.DatabasePath)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	tokens := store.NewTokenStore(rdb)
	log.Infow("redis ready", "addr", cfg.RedisAddr)

	launcher, err := newLauncher(cfg)
	if err != nil {
		log.Fatalw("browser launcher init failed", "error", err)
	}
	pool := browser.NewPool(launcher, cfg.PoolMaxSize, cfg.PoolMaxAge, log)
	defer pool.CloseAll()
	log.Infow("browser pool ready", "backend", cfg.BrowserBackend, "max_size", cfg.PoolMaxSize)

	hub := relay.NewHub(tokens, log)

	dispatcher := dispatch.New(pool, hub, jobs, accounts, v, cfg.RemoteJobTimeout, log)
	defer dispatcher.Close()

	var gen contentgen.Generator
	if cfg.OpenAIKey != "" {
		gen = contentgen.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIModel)
		log.Infow("content generation ready", "model", cfg.OpenAIModel)
	}

	rateLimiter := ratelimit.PerHour(cfg.RateLimitPerHour, cfg.RateLimitBurst)

	handler := api.NewHandler(jobs, accounts, dispatcher, tokens, v, gen, log)
	router := handler.SetupRoutes(hub, rateLimiter)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	go dispatcher.RunScheduler(schedulerCtx, schedulerInterval)

	go func() {
		log.Infow("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	stopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalw("forced shutdown", "error", err)
	}

	log.Info("server stopped cleanly")
}

func newLauncher(cfg *config.Config) (browser.Launcher, error) {
	if cfg.BrowserBackend == "docker" {
		return browser.NewDockerLauncher(cfg.BrowserImage)
	}
	return browser.NewPlaywrightLauncher(cfg.Headless)
}
