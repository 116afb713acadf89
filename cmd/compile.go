package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/inkwell/internal/session"
)

var compileCmd = &cobra.Command{
	Use:   "compile [paths...]",
	Short: "Compile the given masters, or every eligible master",
	Long: "Compile the named master files and wait for the batch to finish. With no paths, " +
		"every master the auto-compile policy allows is compiled. Author errors are reported " +
		"but do not change the exit status.",
	RunE: func(cmd *cobra.Command, args []string) error {
		staleOnly, _ := cmd.Flags().GetBool("stale")
		ctx := cmd.Context()
		sess, logger, err := openSession(ctx, session.Options{})
		if err != nil {
			return err
		}
		defer logger.Close()
		defer sess.Close()

		if len(args) == 0 {
			sess.RecompileAll(ctx, staleOnly, true, printBatch)
			return nil
		}
		paths := make([]string, 0, len(args))
		for _, arg := range args {
			p, err := filepath.Abs(arg)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", arg, err)
			}
			paths = append(paths, p)
		}
		sess.Compile(ctx, paths, true, printBatch)
		return nil
	},
}

func init() {
	compileCmd.Flags().Bool("stale", false, "with no paths, only compile masters edited since their last compile")
	rootCmd.AddCommand(compileCmd)
}
