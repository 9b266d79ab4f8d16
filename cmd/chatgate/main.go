// Command chatgate runs the conversational gateway and its history consumer.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "chatgate",
	Short: "Conversational gateway with retrieval-grounded responses and durable history",
	Long: `chatgate bridges chat clients to an LLM provider: it authenticates
requests, grounds prompts in retrieved conversation context, streams
responses, and queues every exchange for durable persistence.

Run the gateway and the consumer as separate processes:
  chatgate serve     # HTTP gateway (auth, retrieval, generation, streaming)
  chatgate consume   # queue consumer persisting history + read API`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the chatgate version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("chatgate version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(consumeCmd)
	rootCmd.AddCommand(historyCmd)
}

// setupLogging installs the process-wide slog default.
func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
