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

	"github.com/mcclellann/fredCollect/pkg/clock"
	"github.com/mcclellann/fredCollect/pkg/config"
	"github.com/mcclellann/fredCollect/pkg/logger"
	"github.com/mcclellann/fredCollect/pkg/notify"
	"github.com/mcclellann/fredCollect/pkg/payments"
	"github.com/mcclellann/fredCollect/pkg/store"
	"go.uber.org/zap"
)

func openStore(cfg config.DatabaseConfig, log *zap.Logger) (store.Storage, error) {
	switch cfg.Driver {
	case "sqlite3":
		return store.NewSQLiteStore(cfg.DSN, log)
	case "postgres":
		return store.NewPostgresStore(cfg.DSN, log)
	case "memory":
		return store.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

func newMessenger(cfg config.SMTPConfig, log *zap.Logger) notify.Messenger {
	if cfg.Host == "" {
		return notify.NewLogMessenger(log)
	}
	return notify.NewEmailMessenger(notify.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
	}, log)
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	st, err := openStore(cfg.Database, log)
	if err != nil {
		return err
	}
	defer st.Close()

	links := payments.LinkConfig{
		Secret:          cfg.PaymentLinks.Secret,
		BaseURL:         cfg.PaymentLinks.BaseURL,
		DefaultValidity: cfg.PaymentLinks.DefaultValidity,
	}
	server, err := NewServer(st, newMessenger(cfg.SMTP, log), links, cfg.Scheduler, clock.System(), log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Scheduler.Enabled {
		server.jobs.Start()
	}

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server.Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env), zap.String("addr", httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := server.jobs.Stop(shutdownCtx); err != nil {
		log.Warn("scheduler shutdown", zap.Error(err))
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
