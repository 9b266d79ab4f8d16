package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatgate/chatgate/internal/config"
	"github.com/chatgate/chatgate/internal/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history <user-id>",
	Short: "Show recent persisted interactions for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		client := &http.Client{Timeout: 10 * time.Second}
		url := fmt.Sprintf("http://%s/history/%s", cfg.Server.ConsumerAddr, args[0])
		resp, err := client.Get(url)
		if err != nil {
			return fmt.Errorf("consumer not reachable — is chatgate consume running? (%w)", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("history request failed: HTTP %d", resp.StatusCode)
		}

		var interactions []storage.Interaction
		if err := json.NewDecoder(resp.Body).Decode(&interactions); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}

		if len(interactions) == 0 {
			printStatus("History", "no interactions for user %s", args[0])
			return nil
		}

		for _, in := range interactions {
			fmt.Printf("%s\n", colorize(colorBold, in.Timestamp.Format(time.RFC3339)))
			fmt.Printf("  user: %s\n", in.Message)
			fmt.Printf("  bot:  %s\n", in.Response)
		}
		printSuccess("%d interaction(s)", len(interactions))
		return nil
	},
}
