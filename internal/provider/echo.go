package provider

import (
	"context"
	"strings"

	"github.com/tejjnayak/sandchat/internal/proto"
)

// echoClient answers with the last user message. It needs no network
// access, which makes it the fallback when no API key is configured.
type echoClient struct{}

type EchoClient ProviderClient

func newEchoClient() EchoClient {
	return echoClient{}
}

func (echoClient) send(_ context.Context, _ string, messages []proto.Message) (*ProviderResponse, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == proto.User {
			content := "Echo: " + messages[i].Content
			return &ProviderResponse{
				Content: content,
				Usage: TokenUsage{
					InputTokens:  int64(len(strings.Fields(messages[i].Content))),
					OutputTokens: int64(len(strings.Fields(content))),
				},
			}, nil
		}
	}
	return nil, ErrEmptyResponse
}
