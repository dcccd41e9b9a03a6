package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tejjnayak/sandchat/internal/export"
)

func init() {
	exportCmd.Flags().StringP("format", "f", "md", "Export format ("+strings.Join(export.Formats, ", ")+")")
	exportCmd.Flags().StringP("output", "o", "", "Write to a file instead of stdout")
}

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session transcript from a running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		if _, err := export.NewExporter(format); err != nil {
			return err
		}

		c, err := setupClient(cmd)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			defer f.Close()
			w = f
		}
		return c.ExportSession(cmd.Context(), args[0], format, w)
	},
}
