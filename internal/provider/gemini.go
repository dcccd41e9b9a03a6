package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tejjnayak/sandchat/internal/log"
	"github.com/tejjnayak/sandchat/internal/proto"
	"google.golang.org/genai"
)

type geminiClient struct {
	providerOptions providerClientOptions
	client          *genai.Client
}

type GeminiClient ProviderClient

func newGeminiClient(opts providerClientOptions) (GeminiClient, error) {
	client, err := createGeminiClient(opts)
	if err != nil {
		return nil, err
	}
	return &geminiClient{
		providerOptions: opts,
		client:          client,
	}, nil
}

func createGeminiClient(opts providerClientOptions) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		APIKey:  opts.apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.baseURL != "" || len(opts.extraHeaders) > 0 {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.baseURL}
		if len(opts.extraHeaders) > 0 {
			cc.HTTPOptions.Headers = make(map[string][]string, len(opts.extraHeaders))
			for k, v := range opts.extraHeaders {
				cc.HTTPOptions.Headers[k] = []string{v}
			}
		}
	}
	if opts.debug {
		cc.HTTPClient = log.NewHTTPClient()
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return client, nil
}

func (g *geminiClient) convertMessages(messages []proto.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case proto.User:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case proto.Assistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		}
	}
	return contents
}

func (g *geminiClient) send(ctx context.Context, system string, messages []proto.Message) (*ProviderResponse, error) {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(g.providerOptions.maxTokens),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	contents := g.convertMessages(messages)
	resp, err := withRetry(ctx, g.providerOptions.id, g.shouldRetry, func() (*genai.GenerateContentResponse, error) {
		return g.client.Models.GenerateContent(ctx, g.providerOptions.model, contents, cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return nil, ErrEmptyResponse
	}
	out := &ProviderResponse{Content: text}
	if resp.UsageMetadata != nil {
		out.Usage = TokenUsage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

func (g *geminiClient) shouldRetry(err error) (bool, time.Duration) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code), 0
	}
	return false, 0
}
