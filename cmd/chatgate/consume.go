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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chatgate/chatgate/internal/api"
	"github.com/chatgate/chatgate/internal/chatlog"
	"github.com/chatgate/chatgate/internal/config"
	"github.com/chatgate/chatgate/internal/storage"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Start the history consumer (foreground)",
	Long: `Start the history consumer: drains the interaction queue into the
persistent store and serves the recent-history read API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConsumer()
	},
}

func runConsumer() error {
	fmt.Fprintf(os.Stderr, "chatgate version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openHistoryStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing history store", "error", err)
		}
	}()

	consumer := chatlog.NewConsumer(cfg.Queue.URL, cfg.Queue.Name, store, slog.Default())

	srv := &http.Server{
		Addr:    cfg.Server.ConsumerAddr,
		Handler: api.NewHistoryHandler(store, slog.Default()),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Run(gctx)
	})

	g.Go(func() error {
		slog.Info("history API listening", "addr", cfg.Server.ConsumerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down consumer")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openHistoryStore picks the backend from configuration: Postgres for a
// postgres:// URL, a SQLite data directory otherwise.
func openHistoryStore(ctx context.Context, cfg config.StorageConfig) (storage.HistoryStore, error) {
	if cfg.UsesPostgres() {
		return storage.OpenPostgres(ctx, cfg.DatabaseURL)
	}
	return storage.OpenSQLite(cfg.DataDir)
}
