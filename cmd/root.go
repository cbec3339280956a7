package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mailcrm/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "mailcrm",
	Short: "Mailbox-to-CRM routing pipeline",
	Long:  "Polls Gmail mailboxes past a per-user watermark, classifies each message with Claude, and routes it into HubSpot and Salesforce as contacts, companies, deals, tickets, orders and notes.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
