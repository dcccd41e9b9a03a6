// Package server exposes an [app.App] over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"
	"github.com/tejjnayak/sandchat/internal/app"
	"github.com/tejjnayak/sandchat/internal/config"
)

// ErrServerClosed is returned by the serve methods after Close or Shutdown.
var ErrServerClosed = http.ErrServerClosed

const readHeaderTimeout = 10 * time.Second

// ParseHostURL parses a host URL into a [url.URL].
func ParseHostURL(host string) (*url.URL, error) {
	proto, addr, ok := strings.Cut(host, "://")
	if !ok {
		return nil, fmt.Errorf("invalid host format: %s", host)
	}

	var basePath string
	if proto == "tcp" {
		parsed, err := url.Parse("tcp://" + addr)
		if err != nil {
			return nil, fmt.Errorf("invalid tcp address: %v", err)
		}
		addr = parsed.Host
		basePath = parsed.Path
	}
	return &url.URL{
		Scheme: proto,
		Host:   addr,
		Path:   basePath,
	}, nil
}

// ListenAddress returns the network and address cfg asks the server to
// listen on. A host written as a URL ("unix:///tmp/sandchat.sock",
// "npipe:////./pipe/sandchat") selects a socket instead of TCP.
func ListenAddress(cfg *config.Config) (network, address string, err error) {
	if !strings.Contains(cfg.Host, "://") {
		return "tcp", cfg.Addr(), nil
	}
	u, err := ParseHostURL(cfg.Host)
	if err != nil {
		return "", "", err
	}
	return u.Scheme, u.Host + u.Path, nil
}

// Server serves one [app.App] on a single address.
type Server struct {
	// Addr is a host:port for tcp, otherwise a socket path or pipe name.
	Addr    string
	network string

	h      *http.Server
	ln     net.Listener
	lnMu   sync.Mutex
	app    *app.App
	cfg    *config.Config
	logger *slog.Logger
}

// SetLogger sets the logger used for request and handler logs. A nil
// logger silences them.
func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// NewServer creates a [Server] for a on the given network and address.
func NewServer(a *app.App, network, address string) *Server {
	s := &Server{
		Addr:    address,
		network: network,
		app:     a,
		cfg:     a.Config(),
	}

	protocols := new(http.Protocols)
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	s.h = &http.Server{
		Protocols:         protocols,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	if network == "tcp" {
		s.h.Addr = address
	}
	return s
}

// Handler returns the routed handler with CORS and request logging applied.
func (s *Server) Handler() http.Handler {
	c := &controller{Server: s}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", c.handleGetIndex)
	mux.HandleFunc("GET /health", c.handleGetHealth)
	mux.HandleFunc("GET /version", c.handleGetVersion)
	mux.HandleFunc("POST /chat", c.handlePostChat)
	mux.HandleFunc("POST /chat/stream", c.handlePostChatStream)
	mux.HandleFunc("GET /events", c.handleGetEvents)
	mux.HandleFunc("GET /sessions", c.handleGetSessions)
	mux.HandleFunc("GET /sessions/search", c.handleGetSessionsSearch)
	mux.HandleFunc("GET /session/current", c.handleGetSessionCurrent)
	mux.HandleFunc("POST /reset", c.handlePostReset)
	mux.HandleFunc("GET /sessions/{id}", c.handleGetSession)
	mux.HandleFunc("PATCH /sessions/{id}", c.handlePatchSession)
	mux.HandleFunc("DELETE /sessions/{id}", c.handleDeleteSession)
	mux.HandleFunc("GET /sessions/{id}/messages", c.handleGetSessionMessages)
	mux.HandleFunc("GET /sessions/{id}/export", c.handleGetSessionExport)
	mux.HandleFunc("GET /audit/{id}", c.handleGetAudit)
	mux.HandleFunc("GET /artifacts", c.handleGetArtifacts)
	mux.HandleFunc("GET /artifacts/{name}", c.handleGetArtifact)
	mux.HandleFunc("DELETE /artifacts/{name}", c.handleDeleteArtifact)
	mux.HandleFunc("POST /knowledge/upload", c.handlePostKnowledgeUpload)
	mux.HandleFunc("GET /knowledge/search", c.handleGetKnowledgeSearch)
	mux.HandleFunc("GET /knowledge/sources", c.handleGetKnowledgeSources)

	return s.loggingHandler(corsHandler(s.cfg.CORSOrigins).Handler(mux))
}

func corsHandler(origins []string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"Content-Type", "X-API-Key", "X-Client-Project"},
		AllowCredentials: true,
	})
}

// Serve accepts connections on ln until the server is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.lnMu.Lock()
	if s.ln != nil {
		s.lnMu.Unlock()
		return errors.New("server already started")
	}
	s.ln = ln
	s.lnMu.Unlock()
	return s.h.Serve(ln)
}

// ListenAndServe opens the configured listener and serves on it.
func (s *Server) ListenAndServe() error {
	ln, err := listen(s.network, s.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s %s: %w", s.network, s.Addr, err)
	}
	return s.Serve(ln)
}

// Close drops the listener and every open connection, streams included.
func (s *Server) Close() error {
	defer s.releaseListener()
	return s.h.Close()
}

// Shutdown stops accepting connections and waits for in-flight requests,
// open chat streams among them, until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.releaseListener()
	return s.h.Shutdown(ctx)
}

func (s *Server) releaseListener() {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.ln != nil {
		_ = s.ln.Close()
		s.ln = nil
	}
}

func (s *Server) log(r *http.Request, level slog.Level, msg string, args ...any) {
	if s.logger == nil {
		return
	}
	args = append(args,
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)
	s.logger.Log(r.Context(), level, msg, args...)
}

func (s *Server) logDebug(r *http.Request, msg string, args ...any) {
	s.log(r, slog.LevelDebug, msg, args...)
}

func (s *Server) logError(r *http.Request, msg string, args ...any) {
	s.log(r, slog.LevelError, msg, args...)
}
