package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runUser string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline once: sync, classify, and route to the CRMs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("run"); err != nil {
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

		r, tracker, err := buildRunner(st)
		if err != nil {
			return err
		}

		userIDs := accountUserIDs()
		if runUser != "" {
			userIDs = []string{runUser}
		}

		summaries, err := r.RunAll(ctx, userIDs)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}
		tracker.LogSummary()

		for _, s := range summaries {
			zap.L().Info("user run complete",
				zap.String("user_id", s.UserID),
				zap.Int("inserted", s.Inserted),
				zap.Int("processed", s.Processed),
				zap.Int("errors", s.Errors),
			)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	},
}

func init() {
	runCmd.Flags().StringVar(&runUser, "user", "", "run for a single mailbox instead of all configured accounts")
	rootCmd.AddCommand(runCmd)
}
