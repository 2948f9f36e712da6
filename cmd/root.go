package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/newsletter-worker/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "newsletter-worker",
	Short: "Time-boxed newsletter mention extraction worker",
	Long:  "Processes queued newsletter emails in budgeted batches, extracts company mentions via Claude, and maintains a deduplicated per-user company knowledge base.",
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
