package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"github.com/tejjnayak/sandchat/internal/config"
)

func TestLastLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\nd\n"), 0o600))

	lines, err := lastLines(path, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d"}, lines)

	lines, err = lastLines(path, 0)
	require.NoError(t, err)
	require.Len(t, lines, 4)
}

func TestPrintLogLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})

	printLogLine(logger, `{"time":"2026-01-02T03:04:05Z","level":"WARN","msg":"Slow consumer","session_id":"abc","source":{"file":"chat.go","line":42}}`)
	out := buf.String()
	require.Contains(t, out, "Slow consumer")
	require.Contains(t, out, "session_id=abc")
	require.Contains(t, out, "chat.go:42")

	buf.Reset()
	printLogLine(logger, "not json")
	require.Empty(t, buf.String())
}

func TestServerURL(t *testing.T) {
	newCmd := func() *cobra.Command {
		c := &cobra.Command{}
		c.Flags().String("server", "", "")
		return c
	}
	cfg := &config.Config{Host: "127.0.0.1", Port: 9000}

	t.Setenv(config.EnvPrefix+"SERVER", "")
	require.Equal(t, "http://127.0.0.1:9000", ServerURL(newCmd(), cfg))

	t.Setenv(config.EnvPrefix+"SERVER", "http://example.com:1234")
	require.Equal(t, "http://example.com:1234", ServerURL(newCmd(), cfg))

	c := newCmd()
	require.NoError(t, c.Flags().Set("server", "unix:///tmp/sandchat.sock"))
	require.Equal(t, "unix:///tmp/sandchat.sock", ServerURL(c, cfg))

	t.Setenv(config.EnvPrefix+"SERVER", "")
	sockCfg := &config.Config{Host: "unix:///run/sandchat.sock"}
	require.True(t, strings.HasPrefix(ServerURL(newCmd(), sockCfg), "unix://"))
}
