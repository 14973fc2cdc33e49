package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/secshare/secshare/config"
	"github.com/secshare/secshare/internal/api"
	"github.com/secshare/secshare/internal/blob"
	"github.com/secshare/secshare/internal/logging"
	"github.com/secshare/secshare/internal/quota"
	"github.com/secshare/secshare/internal/registry"
	"github.com/secshare/secshare/internal/store"
	"github.com/secshare/secshare/internal/tier"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level)

	policy, err := cfg.TierPolicy()
	if err != nil {
		logger.Error("tier policy error", "error", err)
		os.Exit(1)
	}

	st, err := initStore(cfg)
	if err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	blobs, err := initBlobStore(cfg)
	if err != nil {
		logger.Error("blob store init failed", "error", err)
		os.Exit(1)
	}
	defer blobs.Close()

	tracker, err := initQuota(cfg, policy)
	if err != nil {
		logger.Error("quota tracker init failed", "error", err)
		os.Exit(1)
	}
	defer tracker.Close()

	reg := registry.New(st, blobs, tracker, policy, cfg.Transfers.MaxPasswordAttempts, logger)
	defer reg.Close()

	reaper := registry.NewReaper(reg, cfg.Transfers.ReaperInterval, logger)
	reaper.Start()
	defer reaper.Stop()

	router := api.SetupRouter(reg, cfg, logger)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("server starting",
		"addr", cfg.Addr(),
		"store", cfg.Store.Type,
		"blob_store", cfg.Blob.Type,
		"reaper_interval", cfg.Transfers.ReaperInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}
}

func initStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Type {
	case "redis":
		return store.NewRedisStore(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
	default:
		return store.NewMemoryStore(), nil
	}
}

func initBlobStore(cfg *config.Config) (blob.Store, error) {
	switch cfg.Blob.Type {
	case "memory":
		return blob.NewMemoryStore(), nil
	default:
		return blob.NewFSStore(cfg.Blob.Dir)
	}
}

func initQuota(cfg *config.Config, policy *tier.Policy) (quota.Tracker, error) {
	switch cfg.Store.Type {
	case "redis":
		return quota.NewRedisTracker(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		}, policy)
	default:
		return quota.NewMemoryTracker(policy), nil
	}
}
