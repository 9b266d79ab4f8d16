package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/chatgate/chatgate/internal/api"
	"github.com/chatgate/chatgate/internal/auth"
	"github.com/chatgate/chatgate/internal/chatlog"
	"github.com/chatgate/chatgate/internal/composer"
	"github.com/chatgate/chatgate/internal/config"
	"github.com/chatgate/chatgate/internal/gateway"
	"github.com/chatgate/chatgate/internal/llm"
	"github.com/chatgate/chatgate/internal/memory"
	"github.com/chatgate/chatgate/internal/prompts"
	"github.com/chatgate/chatgate/internal/retrieval"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat gateway (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGateway()
	},
}

// buildOrchestrator wires the chat pipeline from configuration. The returned
// cleanup closes the session memory backend; the returned chatlog.Logger
// still needs its Run loop started by the caller.
func buildOrchestrator(cfg config.Config, loader *prompts.Loader) (*gateway.Orchestrator, *chatlog.Logger, func(), error) {
	// Session memory: Redis when configured, in-process otherwise.
	var sessions memory.Store
	cleanup := func() {}
	if cfg.Memory.RedisURL != "" {
		redisStore, err := memory.NewRedis(cfg.Memory.RedisURL, cfg.Memory.TTL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting session memory: %w", err)
		}
		cleanup = func() { redisStore.Close() }
		sessions = redisStore
		slog.Info("session memory on redis")
	} else {
		sessions = memory.NewInMemory(cfg.Memory.TTL)
		slog.Info("session memory in process")
	}

	chatLogger := chatlog.NewLogger(cfg.Queue.URL, cfg.Queue.Name, slog.Default())

	orch := &gateway.Orchestrator{
		Auth: auth.NewClient(cfg.Auth.URL, cfg.Auth.Timeout),
		Retriever: retrieval.NewClient(cfg.Retrieval.URL,
			retrieval.WithTimeout(cfg.Retrieval.Timeout),
			retrieval.WithMaxAttempts(cfg.Retrieval.MaxAttempts),
		),
		Composer:  composer.New(0),
		Prompts:   loader,
		Generator: llm.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model),
		ChatLog:   chatLogger,
		Memory:    sessions,
		Logger:    slog.Default(),
	}
	return orch, chatLogger, cleanup, nil
}

func runGateway() error {
	fmt.Fprintf(os.Stderr, "chatgate version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := prompts.NewLoader(cfg.Prompts.Dir, cfg.Prompts.DefaultRole)
	orch, chatLogger, cleanup, err := buildOrchestrator(cfg, loader)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewGatewayHandler(orch, loader, slog.Default()),
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Addr, err)
	}
	ln = netutil.LimitListener(ln, cfg.Server.MaxConns)

	g, gctx := errgroup.WithContext(ctx)

	// Publisher worker owns the broker connection for the process lifetime.
	g.Go(func() error {
		chatLogger.Run(gctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("gateway listening", "addr", cfg.Server.Addr, "max_conns", cfg.Server.MaxConns)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
