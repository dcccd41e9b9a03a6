package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tejjnayak/sandchat/internal/log"
	"github.com/tejjnayak/sandchat/internal/proto"
)

type anthropicClient struct {
	providerOptions providerClientOptions
	client          anthropic.Client
}

type AnthropicClient ProviderClient

func newAnthropicClient(opts providerClientOptions) AnthropicClient {
	return &anthropicClient{
		providerOptions: opts,
		client:          createAnthropicClient(opts),
	}
}

func createAnthropicClient(opts providerClientOptions) anthropic.Client {
	anthropicClientOptions := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.apiKey != "" {
		anthropicClientOptions = append(anthropicClientOptions, option.WithAPIKey(opts.apiKey))
	}
	if opts.baseURL != "" {
		anthropicClientOptions = append(anthropicClientOptions, option.WithBaseURL(opts.baseURL))
	}
	if opts.debug {
		anthropicClientOptions = append(anthropicClientOptions, option.WithHTTPClient(log.NewHTTPClient()))
	}
	for key, value := range opts.extraHeaders {
		anthropicClientOptions = append(anthropicClientOptions, option.WithHeader(key, value))
	}
	return anthropic.NewClient(anthropicClientOptions...)
}

func (a *anthropicClient) convertMessages(messages []proto.Message) []anthropic.MessageParam {
	var anthropicMessages []anthropic.MessageParam
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		switch msg.Role {
		case proto.User:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(block))
		case proto.Assistant:
			anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(block))
		}
	}
	return anthropicMessages
}

func (a *anthropicClient) send(ctx context.Context, system string, messages []proto.Message) (*ProviderResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.providerOptions.model),
		MaxTokens: a.providerOptions.maxTokens,
		Messages:  a.convertMessages(messages),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	resp, err := withRetry(ctx, a.providerOptions.id, a.shouldRetry, func() (*anthropic.Message, error) {
		return a.client.Messages.New(ctx, params)
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if content.Len() == 0 {
		return nil, ErrEmptyResponse
	}
	return &ProviderResponse{
		Content: content.String(),
		Usage: TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

func (a *anthropicClient) shouldRetry(err error) (bool, time.Duration) {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return false, 0
	}
	if !retryableStatus(apiErr.StatusCode) {
		return false, 0
	}
	if apiErr.Response != nil {
		return true, retryAfter(apiErr.Response.Header)
	}
	return true, 0
}
