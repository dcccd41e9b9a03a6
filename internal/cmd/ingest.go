package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tejjnayak/sandchat/internal/knowledge"
	"github.com/tejjnayak/sandchat/internal/proto"
)

func init() {
	ingestCmd.Flags().String("pattern", knowledge.DefaultPattern, "Glob of files to index when a directory is given")
	ingestCmd.Flags().Bool("remote", false, "Upload files to the running server instead of the local index")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Add files to the knowledge index",
	Long: `Index text, markdown and HTML files for retrieval augmented chat.
Directories are walked using --pattern. Unchanged content is skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern, _ := cmd.Flags().GetString("pattern")
		remote, _ := cmd.Flags().GetBool("remote")
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		var ingested []proto.KnowledgeIngested
		if remote {
			c, err := setupClient(cmd)
			if err != nil {
				return err
			}
			for _, path := range args {
				res, err := c.UploadFile(ctx, path)
				if err != nil {
					return fmt.Errorf("failed to upload %s: %w", path, err)
				}
				ingested = append(ingested, *res)
			}
		} else {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			conn, err := knowledge.Connect(ctx, cfg.Knowledge.Database)
			if err != nil {
				return fmt.Errorf("failed to open knowledge index: %w", err)
			}
			idx := knowledge.NewIndex(conn)
			defer idx.Close()

			for _, path := range args {
				fi, err := os.Stat(path)
				if err != nil {
					return err
				}
				if fi.IsDir() {
					res, err := idx.IngestDir(ctx, path, pattern)
					if err != nil {
						return err
					}
					ingested = append(ingested, res...)
					continue
				}
				res, err := idx.IngestFile(ctx, path)
				if err != nil {
					return err
				}
				ingested = append(ingested, res)
			}
		}

		var chunks, skipped int
		for _, res := range ingested {
			if res.Skipped {
				skipped++
				fmt.Fprintf(out, "  unchanged  %s\n", res.Source)
				continue
			}
			chunks += res.Chunks
			fmt.Fprintf(out, "  %3d chunks %s\n", res.Chunks, res.Source)
		}
		fmt.Fprintf(out, "Indexed %d chunks from %d files (%d unchanged)\n", chunks, len(ingested)-skipped, skipped)
		return nil
	},
}
