package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run the pipeline continuously on the configured interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

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

		interval := time.Duration(cfg.Run.PollIntervalSecs) * time.Second
		zap.L().Info("polling started",
			zap.Duration("interval", interval),
			zap.Int("accounts", len(cfg.Gmail.Accounts)),
		)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if _, err := r.RunAll(ctx, accountUserIDs()); err != nil {
				// Keep polling; the next cycle may recover.
				zap.L().Error("poll cycle failed", zap.Error(err))
			}
			tracker.LogSummary()

			select {
			case <-ctx.Done():
				zap.L().Info("polling stopped")
				return nil
			case <-ticker.C:
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
}
