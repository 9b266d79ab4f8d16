package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chatgate/chatgate/internal/api"
	"github.com/chatgate/chatgate/internal/config"
	"github.com/chatgate/chatgate/internal/prompts"
)

var mcpToken string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose the gateway over MCP on stdio",
	Long: `Expose the chat pipeline to MCP clients over stdio. The chat tool
runs the full pipeline (auth, retrieval, generation, logging); get_history
reads the persistent store directly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func init() {
	mcpCmd.Flags().StringVar(&mcpToken, "token", "", "bearer token MCP tool calls authenticate with")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP() error {
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

	store, err := openHistoryStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer store.Close()

	stdioSrv := server.NewStdioServer(api.NewMCPServer(api.MCPDeps{
		Orchestrator: orch,
		Store:        store,
		Token:        mcpToken,
	}))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		chatLogger.Run(gctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("MCP server started (stdio transport)")
		err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		stop()
		return nil
	})

	return g.Wait()
}
