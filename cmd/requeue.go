package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var requeueUserID string

// requeueCmd is the manual retry path: the pipeline never re-runs failed
// emails on its own.
var requeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Reset a user's failed emails back to pending",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.RequeueFailedEmails(ctx, requeueUserID)
		if err != nil {
			return eris.Wrapf(err, "requeue failed emails for user %s", requeueUserID)
		}

		zap.L().Info("emails requeued",
			zap.String("user_id", requeueUserID),
			zap.Int("count", n))
		return nil
	},
}

func init() {
	requeueCmd.Flags().StringVar(&requeueUserID, "user", "", "user ID (required)")
	_ = requeueCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(requeueCmd)
}
