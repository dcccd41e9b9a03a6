// Package provider sends conversations to hosted language models.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/catwalk/pkg/catwalk"
	"github.com/tejjnayak/sandchat/internal/config"
	"github.com/tejjnayak/sandchat/internal/proto"
)

const (
	maxRetries       = 3
	defaultMaxTokens = 4096
)

var ErrEmptyResponse = errors.New("provider returned an empty response")

type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

type ProviderResponse struct {
	Content string
	Usage   TokenUsage
}

// Provider answers a conversation.
type Provider interface {
	SendMessages(ctx context.Context, messages []proto.Message) (*ProviderResponse, error)
	Model() string
	Name() string
}

type providerClientOptions struct {
	id            string
	apiKey        string
	baseURL       string
	model         string
	maxTokens     int64
	systemMessage string
	extraHeaders  map[string]string
	debug         bool
}

type ProviderClientOption func(*providerClientOptions)

type ProviderClient interface {
	send(ctx context.Context, system string, messages []proto.Message) (*ProviderResponse, error)
}

type baseProvider[C ProviderClient] struct {
	options providerClientOptions
	client  C
}

// cleanMessages drops empty messages and folds system messages into the
// system prompt, since not every API accepts them inline.
func (p *baseProvider[C]) cleanMessages(messages []proto.Message) (string, []proto.Message) {
	system := p.options.systemMessage
	var cleaned []proto.Message
	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		if msg.Role == proto.System {
			system = strings.TrimSpace(system + "\n\n" + msg.Content)
			continue
		}
		cleaned = append(cleaned, msg)
	}
	return system, cleaned
}

func (p *baseProvider[C]) SendMessages(ctx context.Context, messages []proto.Message) (*ProviderResponse, error) {
	system, messages := p.cleanMessages(messages)
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}
	return p.client.send(ctx, system, messages)
}

func (p *baseProvider[C]) Model() string {
	return p.options.model
}

func (p *baseProvider[C]) Name() string {
	return p.options.id
}

func WithSystemMessage(systemMessage string) ProviderClientOption {
	return func(options *providerClientOptions) {
		options.systemMessage = systemMessage
	}
}

func WithMaxTokens(maxTokens int64) ProviderClientOption {
	return func(options *providerClientOptions) {
		options.maxTokens = maxTokens
	}
}

// WithDebug logs every HTTP exchange with the provider.
func WithDebug(debug bool) ProviderClientOption {
	return func(options *providerClientOptions) {
		options.debug = debug
	}
}

func NewProvider(pcfg config.ProviderConfig, opts ...ProviderClientOption) (Provider, error) {
	clientOptions := providerClientOptions{
		id:           pcfg.ID,
		apiKey:       pcfg.APIKey,
		baseURL:      pcfg.BaseURL,
		model:        pcfg.Model,
		maxTokens:    pcfg.MaxTokens,
		extraHeaders: pcfg.ExtraHeaders,
	}
	for _, o := range opts {
		o(&clientOptions)
	}
	if clientOptions.maxTokens <= 0 {
		clientOptions.maxTokens = defaultMaxTokens
	}

	switch pcfg.Type {
	case catwalk.TypeAnthropic:
		return &baseProvider[AnthropicClient]{
			options: clientOptions,
			client:  newAnthropicClient(clientOptions),
		}, nil
	case catwalk.TypeOpenAI:
		return &baseProvider[OpenAIClient]{
			options: clientOptions,
			client:  newOpenAIClient(clientOptions),
		}, nil
	case catwalk.TypeGemini:
		client, err := newGeminiClient(clientOptions)
		if err != nil {
			return nil, err
		}
		return &baseProvider[GeminiClient]{
			options: clientOptions,
			client:  client,
		}, nil
	case config.TypeEcho:
		return &baseProvider[EchoClient]{
			options: clientOptions,
			client:  newEchoClient(),
		}, nil
	}
	return nil, fmt.Errorf("provider not supported: %s", pcfg.Type)
}
