package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var syncUser string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Poll mailboxes and store new messages without routing them",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("sync"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		s := initSynchronizer(st)

		userIDs := accountUserIDs()
		if syncUser != "" {
			userIDs = []string{syncUser}
		}

		results := make(map[string]any, len(userIDs))
		for _, userID := range userIDs {
			res, err := s.SyncUser(ctx, userID)
			if err != nil {
				zap.L().Error("sync failed", zap.String("user_id", userID), zap.Error(err))
				results[userID] = map[string]string{"error": err.Error()}
				continue
			}
			results[userID] = res
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncUser, "user", "", "sync a single mailbox instead of all configured accounts")
	rootCmd.AddCommand(syncCmd)
}
