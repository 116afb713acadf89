package cmd

import (
	"github.com/spf13/cobra"

	"github.com/papapumpkin/inkwell/internal/session"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rescan the source tree and rebuild the include graph",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reset, _ := cmd.Flags().GetBool("reset")
		ctx := cmd.Context()
		sess, logger, err := openSession(ctx, session.Options{SkipQueue: true, Fresh: reset})
		if err != nil {
			return err
		}
		defer logger.Close()
		defer sess.Close()

		printer.GraphSummary(sess.Status(ctx))
		return nil
	},
}

func init() {
	rebuildCmd.Flags().Bool("reset", false, "discard saved diagnostics and compile times")
	rootCmd.AddCommand(rebuildCmd)
}
