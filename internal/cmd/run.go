package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour/v2"
	"github.com/spf13/cobra"
	"github.com/tejjnayak/sandchat/internal/proto"
)

func init() {
	runCmd.Flags().String("session", "", "Continue an existing session")
	runCmd.Flags().StringP("model", "m", "", "Model to record on a new session")
	runCmd.Flags().Bool("rag", false, "Augment the prompt with knowledge search results")
	runCmd.Flags().Int("top-k", 0, "Number of knowledge results to use with --rag")
	runCmd.Flags().BoolP("quiet", "q", false, "Only print the reply")
	runCmd.Flags().BoolP("render", "r", false, "Render the finished reply as Markdown instead of streaming it")
}

var runCmd = &cobra.Command{
	Use:   "run [prompt...]",
	Short: "Send a single message to a running server",
	Long: `Send a single message to a running sandchat server and stream the reply.
The prompt can be given as arguments or piped from stdin.`,
	Example: `
  # Start a new session
  sandchat run "Write a Go function that reverses a string"

  # Continue a session with retrieval enabled
  sandchat run --session 8f1c... --rag "And now in place"
  `,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		model, _ := cmd.Flags().GetString("model")
		useRAG, _ := cmd.Flags().GetBool("rag")
		topK, _ := cmd.Flags().GetInt("top-k")
		quiet, _ := cmd.Flags().GetBool("quiet")
		render, _ := cmd.Flags().GetBool("render")

		c, err := setupClient(cmd)
		if err != nil {
			return err
		}

		prompt, err := MaybePrependStdin(strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		if strings.TrimSpace(prompt) == "" {
			return errors.New("no prompt provided")
		}

		events, err := c.StreamChat(cmd.Context(), proto.StreamChatRequest{
			Message:   prompt,
			SessionID: sessionID,
			Model:     model,
			UseRAG:    useRAG,
			TopK:      topK,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		errOut := cmd.ErrOrStderr()
		var reply strings.Builder
		for ev := range events {
			switch ev.Kind {
			case proto.StreamSessionInit:
				if !quiet {
					fmt.Fprintf(errOut, "session %s\n", ev.SessionID)
				}
			case proto.StreamChunk:
				if render {
					reply.WriteString(ev.Text)
					continue
				}
				fmt.Fprint(out, ev.Text)
			case proto.StreamArtifacts:
				if !quiet {
					fmt.Fprintf(errOut, "\n%d artifact(s) saved\n", ev.Artifacts)
				}
			case proto.StreamError:
				fmt.Fprintln(out)
				return errors.New(ev.Error)
			case proto.StreamDone:
				if render {
					return renderMarkdown(out, reply.String())
				}
				fmt.Fprintln(out)
			}
		}
		return cmd.Context().Err()
	},
}

func renderMarkdown(w io.Writer, text string) error {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return err
	}
	rendered, err := r.Render(text)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, rendered)
	return err
}
