package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"slices"
	"time"

	"github.com/charmbracelet/log/v2"
	"github.com/spf13/cobra"
	"github.com/tejjnayak/sandchat/internal/app"
	"github.com/tejjnayak/sandchat/internal/config"
	xlog "github.com/tejjnayak/sandchat/internal/log"
	"github.com/tejjnayak/sandchat/internal/server"
)

// shutdownTimeout bounds how long in-flight streams get to finish.
const shutdownTimeout = 5 * time.Second

func init() {
	serveCmd.Flags().StringP("host", "H", "", "Listen host; also accepts unix:// and npipe:// URLs")
	serveCmd.Flags().IntP("port", "p", 0, "Listen port")
	serveCmd.Flags().BoolP("detach", "b", false, "Run the server in the background")
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the sandchat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if host, _ := cmd.Flags().GetString("host"); host != "" {
			cfg.Host = host
		}
		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			cfg.Port = port
		}
		if detach, _ := cmd.Flags().GetBool("detach"); detach {
			return spawnDetached(cmd, cfg)
		}

		logger := log.New(os.Stderr)
		logger.SetReportTimestamp(true)
		if cfg.Debug {
			logger.SetLevel(log.DebugLevel)
		}
		xlog.Setup(cfg.LogFile(), cfg.Debug, logger)

		network, address, err := server.ListenAddress(cfg)
		if err != nil {
			return fmt.Errorf("invalid server host: %v", err)
		}

		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("failed to start app: %w", err)
		}
		defer a.Shutdown()

		srv := server.NewServer(a, network, address)
		srv.SetLogger(slog.Default())
		slog.Info("Starting sandchat server...",
			"addr", address,
			"network", network,
			"backend", cfg.Sandbox.Backend,
			"model", a.Sandboxes.Model(),
			"knowledge", a.Knowledge != nil,
		)

		errch := make(chan error, 1)
		sigch := make(chan os.Signal, 1)
		signal.Notify(sigch, shutdownSignals()...)
		defer signal.Stop(sigch)

		go func() {
			defer xlog.RecoverPanic(cfg.DataDir, "server", func() {
				errch <- errors.New("server panicked")
			})
			errch <- srv.ListenAndServe()
		}()

		select {
		case <-sigch:
			slog.Info("Received interrupt signal...")
		case <-cmd.Context().Done():
			slog.Info("Context cancelled...")
		case err = <-errch:
			if err != nil && !errors.Is(err, server.ErrServerClosed) {
				_ = srv.Close()
				slog.Error("Server error", "error", err)
				return fmt.Errorf("server error: %v", err)
			}
		}

		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		slog.Info("Shutting down...")

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Failed to shutdown server", "error", err)
			return fmt.Errorf("failed to shutdown server: %v", err)
		}
		return nil
	},
}

// spawnDetached re-executes the current command without --detach as a
// background process whose output goes to the log directory.
func spawnDetached(cmd *cobra.Command, cfg *config.Config) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	args := slices.DeleteFunc(slices.Clone(os.Args[1:]), func(arg string) bool {
		return arg == "--detach" || arg == "-b" || arg == "--detach=true"
	})

	if err := os.MkdirAll(filepath.Join(cfg.DataDir, "logs"), 0o700); err != nil {
		return err
	}
	out, err := os.OpenFile(filepath.Join(cfg.DataDir, "logs", "serve.out"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}
	defer out.Close()

	c := exec.Command(exe, args...)
	c.Stdout = out
	c.Stderr = out
	c.Env = os.Environ()
	detachProcess(c)
	if err := c.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sandchat server started in the background (pid %d)\n", c.Process.Pid)
	return c.Process.Release()
}
