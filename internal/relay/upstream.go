package relay

import (
	"context"
	"errors"
	"io"
	"net/http"

	"SnippetVault/internal/backend"

	openai "github.com/sashabaranov/go-openai"
)

// Event is one step of an upstream completion stream
type Event struct {
	Delta string
	Done  bool
	Err   error
}

// Streamer streams a chat completion as events.
// An error before the first event means the upstream refused the request.
type Streamer interface {
	StreamChat(ctx context.Context, messages []openai.ChatCompletionMessage) (<-chan Event, error)
}

// OpenAICompatible streams chat completions from any OpenAI-compatible endpoint:
// OpenAI itself, xAI Grok and Ollama's /v1 API.
type OpenAICompatible struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAICompatible creates a streamer for upstream. A nil httpClient uses the default one;
// request lifetime is bounded by the caller's context.
func NewOpenAICompatible(upstream backend.Upstream, apiKey, model string, maxTokens int, httpClient *http.Client) (*OpenAICompatible, error) {
	if upstream.NeedsKey && apiKey == "" {
		return nil, errors.New("missing API key for " + upstream.Name)
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = upstream.BaseURL
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAICompatible{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// StreamChat starts the completion and forwards its deltas until EOF, an error or ctx ends
func (p *OpenAICompatible) StreamChat(ctx context.Context, messages []openai.ChatCompletionMessage) (<-chan Event, error) {
	req := openai.ChatCompletionRequest{
		Model:     p.model,
		Messages:  messages,
		MaxTokens: p.maxTokens,
		Stream:    true,
	}
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan Event, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		send := func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					send(Event{Done: true})
					return
				}
				send(Event{Err: err})
				return
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !send(Event{Delta: choice.Delta.Content}) {
					return
				}
			}
		}
	}()
	return ch, nil
}
