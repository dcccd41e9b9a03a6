// Package sandbox provides isolated model execution contexts. Each sandbox
// holds its own conversation and is released when the request ends.
package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/tejjnayak/sandchat/internal/config"
	"github.com/tejjnayak/sandchat/internal/provider"
)

var (
	ErrClosed   = errors.New("sandbox is closed")
	ErrNotReady = errors.New("sandbox is not set up")
)

// Sandbox is one isolated execution context.
type Sandbox interface {
	ID() string
	// Setup prepares the sandbox to receive messages.
	Setup(ctx context.Context) error
	// Send delivers text to the model running in the sandbox and returns
	// its full reply.
	Send(ctx context.Context, text string) (string, error)
	Close() error
}

// Service creates sandboxes.
type Service interface {
	Create(ctx context.Context) (Sandbox, error)
	// Active is the number of sandboxes created and not yet closed.
	Active() int
	// Model names the model replies come from.
	Model() string
}

// New builds the sandbox service selected by cfg.
func New(cfg *config.Config) (Service, error) {
	switch cfg.Sandbox.Backend {
	case config.BackendRemote:
		return NewRemoteService(cfg.Sandbox.URL, cfg.Sandbox.APIKey, cfg.Sandbox.Timeout.Duration), nil
	case config.BackendProvider, "":
		pcfg, ok := cfg.Provider()
		if !ok {
			return nil, fmt.Errorf("sandbox provider %q is not configured", cfg.Sandbox.Provider)
		}
		p, err := provider.NewProvider(pcfg, provider.WithDebug(cfg.Debug))
		if err != nil {
			return nil, err
		}
		return NewProviderService(p, cfg.Sandbox.SystemPrompt), nil
	}
	return nil, fmt.Errorf("unknown sandbox backend %q", cfg.Sandbox.Backend)
}
