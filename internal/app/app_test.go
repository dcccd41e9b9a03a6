package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tejjnayak/sandchat/internal/chat"
	"github.com/tejjnayak/sandchat/internal/config"
	"github.com/tejjnayak/sandchat/internal/proto"
	"github.com/tejjnayak/sandchat/internal/pubsub"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir:      dir,
		ArtifactsDir: filepath.Join(dir, "artifacts"),
		DefaultModel: proto.DefaultModel,
		Sandbox: config.SandboxConfig{
			Backend:  config.BackendProvider,
			Provider: "echo",
		},
		Knowledge: config.KnowledgeConfig{
			Database: filepath.Join(dir, "knowledge.db"),
			TopK:     3,
		},
		Providers: map[string]config.ProviderConfig{
			"echo": {ID: "echo", Type: config.TypeEcho, Model: "echo"},
		},
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	app, err := New(t.Context(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(app.Shutdown)

	require.NotNil(t, app.Knowledge)
	require.Equal(t, "echo", app.Sandboxes.Model())

	var events []proto.StreamEvent
	for ev := range app.Chat.Stream(t.Context(), chat.Request{Message: "hello world"}) {
		events = append(events, ev)
	}
	require.Equal(t, proto.StreamDone, events[len(events)-1].Kind)

	sessionID := events[0].SessionID
	msgs := app.Sessions.Messages(sessionID)
	require.Len(t, msgs, 2)
	require.Equal(t, "Echo: hello world", msgs[1].Content)
	require.NotEmpty(t, app.Audit.Trail(sessionID))
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()

	app, err := New(t.Context(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(app.Shutdown)

	for range app.Chat.Stream(t.Context(), chat.Request{Message: "hi"}) {
	}
	current, ok := app.Sessions.Current()
	require.True(t, ok)

	require.True(t, app.DeleteSession(current.ID))
	require.Empty(t, app.Audit.Trail(current.ID))
	require.False(t, app.DeleteSession(current.ID))
}

func TestEvents(t *testing.T) {
	t.Parallel()

	app, err := New(t.Context(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(app.Shutdown)

	events := app.Events(t.Context())
	require.Eventually(t, func() bool {
		return app.Sessions.(interface{ GetSubscriberCount() int }).GetSubscriberCount() == 1 &&
			app.Audit.GetSubscriberCount() == 1
	}, time.Second, time.Millisecond)

	sess := app.Sessions.Create("haiku")
	app.Audit.StartStep(sess.ID, "create_sandbox", nil)

	var sawSession, sawStep bool
	timeout := time.After(2 * time.Second)
	for !sawSession || !sawStep {
		select {
		case ev := <-events:
			switch ev := ev.(type) {
			case SessionEvent:
				require.Equal(t, pubsub.CreatedEvent, ev.Type)
				require.Equal(t, sess.ID, ev.Payload.ID)
				sawSession = true
			case AuditStepEvent:
				require.Equal(t, "create_sandbox", ev.Payload.Step)
				sawStep = true
			}
		case <-timeout:
			t.Fatal("events not delivered")
		}
	}
}

func TestEvents_ClosedOnShutdown(t *testing.T) {
	t.Parallel()

	app, err := New(t.Context(), testConfig(t))
	require.NoError(t, err)

	events := app.Events(t.Context())
	app.Shutdown()

	select {
	case _, ok := <-events:
		for ok {
			_, ok = <-events
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
}
