package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/papapumpkin/inkwell/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show masters, diagnostics and the saved compile queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "text", "json", "yaml":
		default:
			return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
		}

		ctx := cmd.Context()
		sess, logger, err := openSession(ctx, session.Options{SkipQueue: true})
		if err != nil {
			return err
		}
		defer logger.Close()
		defer sess.Close()

		st := sess.Status(ctx)
		switch format {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		case "yaml":
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(st)
		}
		printer.Status(st)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringP("format", "o", "text", "output format: text, json or yaml")
	rootCmd.AddCommand(statusCmd)
}
