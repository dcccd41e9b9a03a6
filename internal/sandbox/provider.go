package sandbox

import (
	"cmp"
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/tejjnayak/sandchat/internal/csync"
	"github.com/tejjnayak/sandchat/internal/prompt"
	"github.com/tejjnayak/sandchat/internal/proto"
	"github.com/tejjnayak/sandchat/internal/provider"
)

// ProviderService runs sandboxes as private conversations with a hosted
// model provider.
type ProviderService struct {
	provider provider.Provider
	system   string
	live     *csync.Map[string, *providerSandbox]
}

func NewProviderService(p provider.Provider, systemPrompt string) *ProviderService {
	return &ProviderService{
		provider: p,
		system:   cmp.Or(systemPrompt, prompt.DefaultSystemPrompt),
		live:     csync.NewMap[string, *providerSandbox](),
	}
}

func (s *ProviderService) Create(ctx context.Context) (Sandbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sb := &providerSandbox{
		id:      "sbx-" + uuid.NewString(),
		service: s,
	}
	s.live.Set(sb.id, sb)
	slog.Debug("Sandbox created", "sandbox_id", sb.id, "provider", s.provider.Name())
	return sb, nil
}

func (s *ProviderService) Active() int {
	return s.live.Len()
}

func (s *ProviderService) Model() string {
	return s.provider.Model()
}

type providerSandbox struct {
	id      string
	service *ProviderService

	mu      sync.Mutex
	ready   bool
	closed  bool
	history []proto.Message
}

func (b *providerSandbox) ID() string {
	return b.id
}

func (b *providerSandbox) Setup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.history = []proto.Message{{
		ID:        uuid.NewString(),
		Role:      proto.System,
		Content:   b.service.system,
		Timestamp: proto.Now(),
	}}
	b.ready = true
	return nil
}

func (b *providerSandbox) Send(ctx context.Context, text string) (string, error) {
	b.mu.Lock()
	switch {
	case b.closed:
		b.mu.Unlock()
		return "", ErrClosed
	case !b.ready:
		b.mu.Unlock()
		return "", ErrNotReady
	}
	b.history = append(b.history, proto.Message{
		ID:        uuid.NewString(),
		Role:      proto.User,
		Content:   text,
		Timestamp: proto.Now(),
	})
	history := make([]proto.Message, len(b.history))
	copy(history, b.history)
	b.mu.Unlock()

	resp, err := b.service.provider.SendMessages(ctx, history)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	b.history = append(b.history, proto.Message{
		ID:        uuid.NewString(),
		Role:      proto.Assistant,
		Content:   resp.Content,
		Timestamp: proto.Now(),
	})
	b.mu.Unlock()

	slog.Debug("Sandbox reply", "sandbox_id", b.id, "input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
	return resp.Content, nil
}

func (b *providerSandbox) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.history = nil
	b.service.live.Del(b.id)
	slog.Debug("Sandbox closed", "sandbox_id", b.id)
	return nil
}
