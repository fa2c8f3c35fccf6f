package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loanmatch/config"
	"loanmatch/pkg/cache"
	"loanmatch/pkg/ingest"
	"loanmatch/pkg/logging"
	"loanmatch/pkg/notify"
	"loanmatch/pkg/store"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the dependencies shared by every subcommand.
type app struct {
	cfg    config.Config
	logger *log.Logger
	db     *gorm.DB
	store  *store.Store
	cache  *cache.Summary
	ingest *ingest.Service
}

// newApp loads configuration and connects to the database and Redis.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(os.Stderr, cfg.App.LogLevel).With("app", cfg.App.Name)

	gdb, err := openDB(cfg.DB)
	if err != nil {
		return nil, err
	}

	st := store.New(gdb)
	summary := cache.NewSummary(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.SummaryTTL, logger)
	notifier := notify.New(cfg.Webhook.BaseURL, cfg.Webhook.Timeout, cfg.Webhook.SigningSecret)
	if _, ok := notifier.(notify.Nop); ok {
		logger.Warn("MATCHER_WEBHOOK_URL not set; matcher notifications are disabled")
	}
	svc := ingest.NewService(st, notifier, summary, logger, ingest.Options{
		MaxBytes:         cfg.Upload.MaxBytes,
		ErrorLogLimit:    cfg.Upload.ErrorLogLimit,
		ErrorSampleLimit: cfg.Upload.ErrorSampleLimit,
	})
	return &app{cfg: cfg, logger: logger, db: gdb, store: st, cache: summary, ingest: svc}, nil
}

func (a *app) Close() {
	_ = a.cache.Close()
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// serve runs the HTTP server until SIGINT/SIGTERM, then drains for up to 10s.
func (a *app) serve() error {
	if a.cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := newRouter(newServer(a.store, a.ingest, a.cache, a.logger))
	srv := &http.Server{
		Addr:              a.cfg.App.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case sig := <-quit:
		a.logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
