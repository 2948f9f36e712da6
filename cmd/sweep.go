package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/newsletter-worker/internal/pipeline"
)

var sweepConcurrency int

// sweepCmd processes every user with a pending backlog, a few in parallel.
// Each user still gets an independent time budget.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Process pending emails for all users",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		users, err := st.ListUsersWithPending(ctx)
		if err != nil {
			return eris.Wrap(err, "list users with pending emails")
		}
		if len(users) == 0 {
			zap.L().Info("no pending emails")
			return nil
		}

		publisher := initPublisher(ctx)
		defer publisher.Close()

		processor := initProcessor(st, publisher, nil)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(sweepConcurrency)
		for _, userID := range users {
			g.Go(func() error {
				result, err := processor.Run(gctx, pipeline.Params{UserID: userID})
				if err != nil {
					zap.L().Error("sweep run failed",
						zap.String("user_id", userID), zap.Error(err))
					return nil // one user's failure should not stop the sweep
				}
				zap.L().Info("sweep run complete",
					zap.String("user_id", userID),
					zap.Int("processed", result.Processed),
					zap.Int("remaining", result.Remaining))
				return nil
			})
		}
		return g.Wait()
	},
}

func init() {
	sweepCmd.Flags().IntVar(&sweepConcurrency, "concurrency", 4, "users processed in parallel")
	rootCmd.AddCommand(sweepCmd)
}
