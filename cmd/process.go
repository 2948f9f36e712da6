package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/newsletter-worker/internal/pipeline"
)

var (
	processUserID string
	processBatch  int
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one processing pass for a user's pending emails",
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

		publisher := initPublisher(ctx)
		defer publisher.Close()

		processor := initProcessor(st, publisher, nil)

		result, err := processor.Run(ctx, pipeline.Params{
			UserID:    processUserID,
			BatchSize: processBatch,
		})
		if err != nil {
			return eris.Wrap(err, "processing run")
		}

		if result.Remaining > 0 {
			zap.L().Info("budget exhausted before queue drained, run again to continue",
				zap.Int("remaining", result.Remaining))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	processCmd.Flags().StringVar(&processUserID, "user", "", "user ID to process (required)")
	processCmd.Flags().IntVar(&processBatch, "batch-size", 0, "emails per fetch (default from config)")
	_ = processCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(processCmd)
}
