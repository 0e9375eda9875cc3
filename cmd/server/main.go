package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k2api-go/internal/config"
	"k2api-go/internal/logging"
	mw "k2api-go/internal/middleware"
	srv "k2api-go/internal/server"
	"k2api-go/internal/token"
	"k2api-go/internal/updater"
	"k2api-go/internal/upstream"

	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if *debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}
	log.WithField("config", *configPath).Info("starting k2api-go")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := buildStore(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize token store")
	}
	defer cleanup()

	pool, err := token.NewPool(ctx, token.Options{
		Store:                  store,
		MaxFailures:            cfg.MaxTokenFailures,
		AllowEmpty:             cfg.AutoUpdateEnabled,
		FailureThreshold:       cfg.ConsecutiveFailureThreshold,
		UpstreamErrorThreshold: cfg.UpstreamErrorThreshold,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to load token pool")
	}
	log.WithFields(log.Fields{
		"tokens":  pool.Size(),
		"backend": store.Name(),
	}).Info("token pool ready")

	var upd *updater.Updater
	if cfg.AutoUpdateEnabled {
		upd = updater.New(updater.Options{
			Script:       cfg.MintScript,
			AccountsFile: cfg.AccountsFile,
			Store:        store,
			Pool:         pool,
			Interval:     cfg.UpdateInterval(),
			Timeout:      cfg.MintTimeout(),
		})
		if err := upd.Start(ctx); err != nil {
			log.WithError(err).Fatal("failed to start token updater")
		}
		defer upd.Stop()
		pool.SetRefresher(upd)
	}

	if fs, ok := store.(*token.FileStore); ok && cfg.WatchTokensFile {
		mw.SafeGo("tokens-file-watcher", func() {
			err := token.WatchFile(ctx, fs.Path(), func() {
				if err := pool.Load(context.Background()); err != nil {
					log.WithError(err).Warn("token reload after file change failed")
				} else {
					log.WithField("tokens", pool.Size()).Info("token pool reloaded after file change")
				}
			})
			if err != nil {
				log.WithError(err).Warn("tokens file watcher stopped")
			}
		})
	}

	engine := srv.BuildEngine(cfg, srv.Dependencies{
		Pool:         pool,
		Orchestrator: upstream.NewOrchestrator(pool, cfg.MaxRetries, cfg.RetryDelay(), cfg.AutoUpdateEnabled),
		Store:        store,
		Updater:      upd,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
}

// buildStore selects the token store backend from configuration.
func buildStore(cfg *config.Config) (token.Store, func(), error) {
	switch cfg.StorageBackend {
	case "redis":
		store, err := token.NewRedisStore(token.RedisStoreConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		store := token.NewFileStore(cfg.TokensFile)
		if removed := store.CleanupArtifacts(); removed > 0 {
			log.WithField("removed", removed).Info("cleaned up stale token file artifacts")
		}
		return store, func() {}, nil
	}
}
