// Package app wires the chat services together for one running server.
package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/tejjnayak/sandchat/internal/artifact"
	"github.com/tejjnayak/sandchat/internal/audit"
	"github.com/tejjnayak/sandchat/internal/chat"
	"github.com/tejjnayak/sandchat/internal/config"
	"github.com/tejjnayak/sandchat/internal/knowledge"
	"github.com/tejjnayak/sandchat/internal/sandbox"
	"github.com/tejjnayak/sandchat/internal/session"
)

type App struct {
	Sessions  session.Store
	Audit     *audit.Recorder
	Artifacts *artifact.Store
	Sandboxes sandbox.Service
	Chat      *chat.Orchestrator

	// Knowledge is nil when the index could not be opened.
	Knowledge *knowledge.Index

	config *config.Config

	serviceEventsWG *sync.WaitGroup
	eventsCtx       context.Context
	cancelEvents    context.CancelFunc

	cleanupFuncs []func() error
}

// New initializes a new application instance.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	sandboxes, err := sandbox.New(cfg)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, sandboxes), nil
}

func newApp(ctx context.Context, cfg *config.Config, sandboxes sandbox.Service) *App {
	app := &App{
		Sessions:        session.NewStore(),
		Audit:           audit.NewRecorder(),
		Artifacts:       artifact.NewStore(cfg.ArtifactsDir),
		Sandboxes:       sandboxes,
		config:          cfg,
		serviceEventsWG: &sync.WaitGroup{},
	}
	app.eventsCtx, app.cancelEvents = context.WithCancel(ctx)

	opts := []chat.Option{
		chat.WithChunkDelay(cfg.ChunkDelay.Duration),
		chat.WithModelTimeout(cfg.ModelTimeout.Duration),
		chat.WithDefaultModel(cfg.DefaultModel),
		chat.WithDefaultTopK(cfg.Knowledge.TopK),
	}

	conn, err := knowledge.Connect(ctx, cfg.Knowledge.Database)
	if err != nil {
		slog.Warn("Knowledge index unavailable, retrieval is disabled", "database", cfg.Knowledge.Database, "error", err)
	} else {
		app.Knowledge = knowledge.NewIndex(conn)
		app.cleanupFuncs = append(app.cleanupFuncs, app.Knowledge.Close)
		opts = append(opts, chat.WithRetriever(app.Knowledge))
	}

	app.Chat = chat.New(
		app.Sessions,
		app.Audit,
		app.Sandboxes,
		artifact.NewExtractor(app.Artifacts),
		opts...,
	)
	return app
}

func (app *App) Config() *config.Config {
	return app.config
}

// DeleteSession removes a session together with its audit trail.
func (app *App) DeleteSession(id string) bool {
	if !app.Sessions.Delete(id) {
		return false
	}
	app.Audit.Forget(id)
	return true
}

// Shutdown stops event delivery and releases the application's resources.
func (app *App) Shutdown() {
	app.cancelEvents()
	app.serviceEventsWG.Wait()
	app.Sessions.Shutdown()
	app.Audit.Shutdown()

	var errs []error
	for _, cleanup := range app.cleanupFuncs {
		if cleanup != nil {
			errs = append(errs, cleanup())
		}
	}
	if err := errors.Join(errs...); err != nil {
		slog.Error("Failed to clean up app properly on shutdown", "error", err)
	}
}
