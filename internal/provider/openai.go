package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/tejjnayak/sandchat/internal/log"
	"github.com/tejjnayak/sandchat/internal/proto"
)

type openaiClient struct {
	providerOptions providerClientOptions
	client          openai.Client
}

type OpenAIClient ProviderClient

func newOpenAIClient(opts providerClientOptions) OpenAIClient {
	return &openaiClient{
		providerOptions: opts,
		client:          createOpenAIClient(opts),
	}
}

func createOpenAIClient(opts providerClientOptions) openai.Client {
	openaiClientOptions := []option.RequestOption{}
	if opts.apiKey != "" {
		openaiClientOptions = append(openaiClientOptions, option.WithAPIKey(opts.apiKey))
	}
	if opts.baseURL != "" {
		openaiClientOptions = append(openaiClientOptions, option.WithBaseURL(opts.baseURL))
	}
	if opts.debug {
		openaiClientOptions = append(openaiClientOptions, option.WithHTTPClient(log.NewHTTPClient()))
	}
	for key, value := range opts.extraHeaders {
		openaiClientOptions = append(openaiClientOptions, option.WithHeader(key, value))
	}
	// Retries are handled by withRetry.
	openaiClientOptions = append(openaiClientOptions, option.WithMaxRetries(0))
	return openai.NewClient(openaiClientOptions...)
}

func (o *openaiClient) convertMessages(system string, messages []proto.Message) []openai.ChatCompletionMessageParamUnion {
	var openaiMessages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		openaiMessages = append(openaiMessages, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		switch msg.Role {
		case proto.User:
			openaiMessages = append(openaiMessages, openai.UserMessage(msg.Content))
		case proto.Assistant:
			openaiMessages = append(openaiMessages, openai.AssistantMessage(msg.Content))
		}
	}
	return openaiMessages
}

func (o *openaiClient) send(ctx context.Context, system string, messages []proto.Message) (*ProviderResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:     shared.ChatModel(o.providerOptions.model),
		Messages:  o.convertMessages(system, messages),
		MaxTokens: openai.Int(o.providerOptions.maxTokens),
	}
	completion, err := withRetry(ctx, o.providerOptions.id, o.shouldRetry, func() (*openai.ChatCompletion, error) {
		return o.client.Chat.Completions.New(ctx, params)
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}
	return &ProviderResponse{
		Content: completion.Choices[0].Message.Content,
		Usage: TokenUsage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
	}, nil
}

func (o *openaiClient) shouldRetry(err error) (bool, time.Duration) {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return false, 0
	}
	if apiErr.Type == "insufficient_quota" || apiErr.Code == "insufficient_quota" {
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
