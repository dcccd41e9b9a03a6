package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/charmbracelet/log/v2"
	"github.com/nxadm/tail"
	"github.com/spf13/cobra"
)

const defaultTailLines = 1000

func init() {
	logsCmd.Flags().BoolP("follow", "f", false, "Follow log output")
	logsCmd.Flags().IntP("tail", "t", defaultTailLines, "Show only the last N lines")
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View sandchat server logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		tailLines, _ := cmd.Flags().GetInt("tail")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logsFile := cfg.LogFile()
		if _, err := os.Stat(logsFile); os.IsNotExist(err) {
			log.Warn("No logs found", "path", logsFile)
			return nil
		}

		logger := log.NewWithOptions(cmd.OutOrStdout(), log.Options{
			Level:           log.DebugLevel,
			ReportTimestamp: true,
		})

		lines, err := lastLines(logsFile, tailLines)
		if err != nil {
			return err
		}
		for _, line := range lines {
			printLogLine(logger, line)
		}
		if !follow {
			return nil
		}
		if len(lines) == tailLines {
			fmt.Fprintf(cmd.ErrOrStderr(), "\nShowing last %d lines. Full logs available at: %s\n", tailLines, logsFile)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Following new log entries...\n\n")
		return followLogs(cmd.Context(), logger, logsFile)
	},
}

// lastLines returns up to n trailing lines of the file at path.
func lastLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if n > 0 && len(lines) > n {
			lines = lines[len(lines)-n:]
		}
	}
	return lines, sc.Err()
}

func followLogs(ctx context.Context, logger *log.Logger, path string) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Logger:   tail.DiscardingLogger,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
	})
	if err != nil {
		return fmt.Errorf("failed to tail log file: %w", err)
	}
	defer t.Cleanup()
	defer t.Stop() //nolint:errcheck

	for {
		select {
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				continue
			}
			printLogLine(logger, line.Text)
		case <-ctx.Done():
			return nil
		}
	}
}

// printLogLine renders one JSON slog record through the console logger.
func printLogLine(logger *log.Logger, text string) {
	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return
	}
	msg, _ := data["msg"].(string)
	level, _ := data["level"].(string)

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var kv []any
	for _, k := range keys {
		switch k {
		case "msg", "level", "time":
		case "source":
			src, ok := data[k].(map[string]any)
			if !ok {
				continue
			}
			line, _ := src["line"].(float64)
			kv = append(kv, "source", fmt.Sprintf("%v:%d", src["file"], int(line)))
		default:
			kv = append(kv, k, data[k])
		}
	}

	if ts, ok := data["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			logger.SetTimeFunction(func(time.Time) time.Time { return parsed })
		}
	}

	switch level {
	case "DEBUG":
		logger.Debug(msg, kv...)
	case "WARN":
		logger.Warn(msg, kv...)
	case "ERROR":
		logger.Error(msg, kv...)
	default:
		logger.Info(msg, kv...)
	}
}
