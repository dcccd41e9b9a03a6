package cmd

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"github.com/tejjnayak/sandchat/internal/client"
	"github.com/tejjnayak/sandchat/internal/config"
	"github.com/tejjnayak/sandchat/internal/version"
)

func init() {
	rootCmd.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	rootCmd.PersistentFlags().StringP("data-dir", "D", "", "Custom sandchat data directory")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().StringP("server", "s", "", "Server URL used by client commands (defaults to the configured address)")

	rootCmd.AddCommand(
		serveCmd,
		runCmd,
		ingestCmd,
		exportCmd,
		artifactsCmd,
		mcpCmd,
		logsCmd,
		infoCmd,
		schemaCmd,
	)
}

var rootCmd = &cobra.Command{
	Use:   "sandchat",
	Short: "Streamed chat server backed by sandboxed models",
	Long: `sandchat runs a chat API that sends each message to an isolated model
sandbox, streams the reply back as Server-Sent Events, keeps per-session
history and audit trails, and saves code blocks from replies as artifacts.`,
	Example: `
  # Start the server on the configured address
  sandchat serve

  # Start the server with debug logging in a specific directory
  sandchat -d -c /path/to/project serve

  # Ask a running server a question
  sandchat run "Explain the use of context in Go"

  # Pipe input from stdin
  cat main.go | sandchat run "What is this code doing?"

  # Index a directory of notes for retrieval
  sandchat ingest ./docs

  # Follow the server logs
  sandchat logs -f
  `,
	SilenceUsage: true,
}

func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(version.Version),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the working directory and loads the configuration
// using the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	debug, _ := cmd.Flags().GetBool("debug")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	cwd, err := ResolveCwd(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Init(cwd, dataDir, debug)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// ServerURL returns the address client commands connect to: the --server
// flag, then $SANDCHAT_SERVER, then the configured listen address.
func ServerURL(cmd *cobra.Command, cfg *config.Config) string {
	flag, _ := cmd.Flags().GetString("server")
	if u := cmp.Or(flag, os.Getenv(config.EnvPrefix+"SERVER")); u != "" {
		return u
	}
	if strings.Contains(cfg.Host, "://") {
		return cfg.Host
	}
	return "http://" + cfg.Addr()
}

func setupClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return client.NewClient(ServerURL(cmd, cfg), client.WithAPIKey(os.Getenv(config.EnvPrefix+"API_KEY")))
}

func MaybePrependStdin(prompt string) (string, error) {
	if term.IsTerminal(os.Stdin.Fd()) {
		return prompt, nil
	}
	fi, err := os.Stdin.Stat()
	if err != nil {
		return prompt, err
	}
	if fi.Mode()&os.ModeNamedPipe == 0 {
		return prompt, nil
	}
	bts, err := io.ReadAll(os.Stdin)
	if err != nil {
		return prompt, err
	}
	if prompt == "" {
		return string(bts), nil
	}
	return string(bts) + "\n\n" + prompt, nil
}

func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		err := os.Chdir(cwd)
		if err != nil {
			return "", fmt.Errorf("failed to change directory: %v", err)
		}
		return cwd, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %v", err)
	}
	return cwd, nil
}
