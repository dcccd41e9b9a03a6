package sandbox

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tejjnayak/sandchat/internal/config"
	"github.com/tejjnayak/sandchat/internal/provider"
)

func newEchoService(t *testing.T) *ProviderService {
	t.Helper()
	p, err := provider.NewProvider(config.ProviderConfig{ID: "echo", Type: config.TypeEcho, Model: "echo"})
	require.NoError(t, err)
	return NewProviderService(p, "")
}

func TestProviderSandbox_Lifecycle(t *testing.T) {
	t.Parallel()

	svc := newEchoService(t)
	sb, err := svc.Create(t.Context())
	require.NoError(t, err)
	require.NotEmpty(t, sb.ID())
	require.Equal(t, 1, svc.Active())
	require.Equal(t, "echo", svc.Model())

	_, err = sb.Send(t.Context(), "too early")
	require.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, sb.Setup(t.Context()))
	reply, err := sb.Send(t.Context(), "hello")
	require.NoError(t, err)
	require.Equal(t, "Echo: hello", reply)

	require.NoError(t, sb.Close())
	require.NoError(t, sb.Close())
	require.Zero(t, svc.Active())

	_, err = sb.Send(t.Context(), "late")
	require.ErrorIs(t, err, ErrClosed)
}

func TestProviderSandbox_Isolated(t *testing.T) {
	t.Parallel()

	svc := newEchoService(t)
	a, _ := svc.Create(t.Context())
	b, _ := svc.Create(t.Context())
	require.NotEqual(t, a.ID(), b.ID())
	require.NoError(t, a.Setup(t.Context()))
	require.NoError(t, b.Setup(t.Context()))

	_, _ = a.Send(t.Context(), "one")
	_, _ = a.Send(t.Context(), "two")
	require.Len(t, a.(*providerSandbox).history, 5)
	require.Len(t, b.(*providerSandbox).history, 1)
}

type fakeDaemon struct {
	mu      sync.Mutex
	created int
	setup   map[string]bool
	deleted map[string]bool
	failOn  string
}

func (d *fakeDaemon) failing(stage string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failOn == stage
}

func (d *fakeDaemon) failAt(stage string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failOn = stage
}

func (d *fakeDaemon) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sandboxes", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer daemon-key", r.Header.Get("Authorization"))
		if d.failing("create") {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"detail":"no capacity"}`))
			return
		}
		d.mu.Lock()
		d.created++
		d.mu.Unlock()
		_, _ = w.Write([]byte(`{"sandbox_id":"sbx-1"}`))
	})
	mux.HandleFunc("POST /sandboxes/{id}/setup", func(w http.ResponseWriter, r *http.Request) {
		if d.failing("setup") {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"install failed"}`))
			return
		}
		d.mu.Lock()
		d.setup[r.PathValue("id")] = true
		d.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /sandboxes/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Message string `json:"message"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, _ = w.Write([]byte(`{"response":"reply to ` + req.Message + `","model":"minimax-m2"}`))
	})
	mux.HandleFunc("DELETE /sandboxes/{id}", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.deleted[r.PathValue("id")] = true
		d.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func TestRemoteSandbox(t *testing.T) {
	t.Parallel()

	d := &fakeDaemon{setup: map[string]bool{}, deleted: map[string]bool{}}
	srv := httptest.NewServer(d.handler(t))
	defer srv.Close()

	svc := NewRemoteService(srv.URL+"/", "daemon-key", 5*time.Second)
	sb, err := svc.Create(t.Context())
	require.NoError(t, err)
	require.Equal(t, "sbx-1", sb.ID())
	require.Equal(t, 1, svc.Active())

	require.NoError(t, sb.Setup(t.Context()))
	reply, err := sb.Send(t.Context(), "hi")
	require.NoError(t, err)
	require.Equal(t, "reply to hi", reply)
	require.Equal(t, "minimax-m2", svc.Model())

	require.NoError(t, sb.Close())
	require.Zero(t, svc.Active())
	d.mu.Lock()
	defer d.mu.Unlock()
	require.True(t, d.setup["sbx-1"])
	require.True(t, d.deleted["sbx-1"])
}

func TestRemoteSandbox_Errors(t *testing.T) {
	t.Parallel()

	d := &fakeDaemon{setup: map[string]bool{}, deleted: map[string]bool{}, failOn: "create"}
	srv := httptest.NewServer(d.handler(t))
	defer srv.Close()

	svc := NewRemoteService(srv.URL, "daemon-key", 5*time.Second)
	_, err := svc.Create(t.Context())
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	require.Equal(t, http.StatusServiceUnavailable, remoteErr.StatusCode)
	require.Equal(t, "no capacity", remoteErr.Message)

	d.failAt("setup")
	sb, err := svc.Create(t.Context())
	require.NoError(t, err)
	err = sb.Setup(t.Context())
	require.ErrorContains(t, err, "install failed")
	require.NoError(t, sb.Close())
}

func TestNew(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Sandbox: config.SandboxConfig{Backend: config.BackendProvider, Provider: "echo"},
		Providers: map[string]config.ProviderConfig{
			"echo": {ID: "echo", Type: config.TypeEcho, Model: "echo"},
		},
	}
	svc, err := New(cfg)
	require.NoError(t, err)
	require.IsType(t, &ProviderService{}, svc)

	cfg.Sandbox = config.SandboxConfig{Backend: config.BackendRemote, URL: "http://localhost:1"}
	svc, err = New(cfg)
	require.NoError(t, err)
	require.IsType(t, &RemoteService{}, svc)

	cfg.Sandbox.Backend = "vm"
	_, err = New(cfg)
	require.Error(t, err)
}
