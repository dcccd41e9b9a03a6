package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/x/term"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	artifactsCmd.Flags().Bool("plain", false, "Print artifact contents without syntax highlighting")
	artifactsCmd.Flags().Bool("delete", false, "Delete the named artifact")
}

var artifactsCmd = &cobra.Command{
	Use:   "artifacts [name]",
	Short: "List or show code artifacts saved by a running server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plain, _ := cmd.Flags().GetBool("plain")
		del, _ := cmd.Flags().GetBool("delete")

		c, err := setupClient(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if len(args) == 0 {
			artifacts, err := c.ListArtifacts(ctx)
			if err != nil {
				return err
			}
			if len(artifacts) == 0 {
				fmt.Fprintln(out, "No artifacts")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, a := range artifacts {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Name, a.SizeHuman, humanize.Time(a.CreatedAt.Time))
			}
			return tw.Flush()
		}

		name := args[0]
		if del {
			return c.DeleteArtifact(ctx, name)
		}
		content, _, err := c.GetArtifact(ctx, name)
		if err != nil {
			return err
		}
		if plain || !term.IsTerminal(os.Stdout.Fd()) {
			_, err = out.Write(content)
			return err
		}
		return quick.Highlight(out, string(content), name, "terminal256", "monokai")
	},
}
