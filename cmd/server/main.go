package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/exp/slog"

	"clinsync/internal/app/server/api"
	"clinsync/internal/app/server/config"
	"clinsync/internal/domain/message"
	"clinsync/internal/infrastructure/storage/memory"
	"clinsync/internal/infrastructure/storage/postgres"
	"clinsync/internal/utils/logger"
)

func main() {
	cfg := config.MustLoad()
	log := logger.NewLevel(cfg.Env, cfg.Logger.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repo message.Repository
	switch cfg.Storage {
	case config.StoragePostgres:
		storage, err := postgres.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer storage.Close()
		repo = postgres.NewMessageRepository(storage.Pool(), log)
	default:
		log.Warn("DATABASE_URI not set, documents are kept in memory")
		repo = memory.NewMessageRepository()
	}

	srv := &http.Server{
		Addr:              cfg.Server.RunAddress,
		Handler:           api.New(repo, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server started", "address", cfg.Server.RunAddress, "env", cfg.Env, "storage", cfg.Storage)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
