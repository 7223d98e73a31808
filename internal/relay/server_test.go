package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"SnippetVault/internal/backend"
	"SnippetVault/internal/config"
	"SnippetVault/internal/mentor"
	"SnippetVault/internal/session"
	"SnippetVault/internal/sse"
	"SnippetVault/internal/store"
	"SnippetVault/internal/telemetry"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOpenAI emulates the chat completions endpoint of an OpenAI-compatible upstream
type fakeOpenAI struct {
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
	status   int
	errBody  string
	deltas   []string
}

func (f *fakeOpenAI) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		status, errBody, deltas := f.status, f.errBody, f.deltas
		f.mu.Unlock()

		if status != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			io.WriteString(w, errBody)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for i, d := range deltas {
			content, _ := json.Marshal(d)
			fmt.Fprintf(w, `data: {"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"%s","choices":[{"index":0,"delta":{"content":%s},"finish_reason":null}]}`+"\n\n", req.Model, content)
			if i == 0 {
				w.(http.Flusher).Flush()
			}
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeOpenAI) fail(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.errBody = status, body
}

func (f *fakeOpenAI) lastRequest() openai.ChatCompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newRelay(t *testing.T, upstream *httptest.Server, cfg config.RelayConfig) *httptest.Server {
	t.Helper()
	llm, err := NewOpenAICompatible(backend.Upstream{
		Name:     config.BackendOpenAI,
		BaseURL:  upstream.URL + "/v1",
		NeedsKey: true,
	}, "sk-test", "test-model", 256, nil)
	require.NoError(t, err)
	return serveRelay(t, llm, cfg)
}

func serveRelay(t *testing.T, llm Streamer, cfg config.RelayConfig) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(cfg, llm, nil, telemetry.Global("relay-test")).Handler())
	t.Cleanup(srv.Close)
	return srv
}

// streamerFunc adapts a function to Streamer
type streamerFunc func(ctx context.Context, messages []openai.ChatCompletionMessage) (<-chan Event, error)

func (f streamerFunc) StreamChat(ctx context.Context, messages []openai.ChatCompletionMessage) (<-chan Event, error) {
	return f(ctx, messages)
}

var explainRequest = backend.ChatRequest{
	Messages:        []backend.ChatMessage{{Role: session.RoleUser, Content: "Explain this code"}},
	SnippetCode:     "def add(a, b):\n    return a + b\n",
	SnippetName:     "add",
	SnippetLanguage: "python",
}

func post(t *testing.T, url, key string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url+MentorPath, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body backend.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestRelayStreamsUpstreamDeltas(t *testing.T) {
	upstream := &fakeOpenAI{deltas: []string{"Hel", "lo", " world"}}
	relay := newRelay(t, upstream.serve(t), config.RelayConfig{APIKey: "secret"})

	resp := post(t, relay.URL, "secret", explainRequest)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(body), "data: [DONE]\n\n"))

	dec := sse.NewDecoder()
	var acc sse.Accumulator
	for _, f := range dec.Feed(body) {
		acc.Add(f)
	}
	assert.True(t, dec.Done())
	assert.Equal(t, "Hello world", acc.String())
	assert.Equal(t, 3, acc.Fragments())

	req := upstream.lastRequest()
	assert.Equal(t, "test-model", req.Model)
	assert.True(t, req.Stream)
	assert.Equal(t, 256, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "Snippet: add")
	assert.Contains(t, req.Messages[0].Content, "return a + b")
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[1].Role)
	assert.Equal(t, "Explain this code", req.Messages[1].Content)
}

func TestRelayRejectsBadToken(t *testing.T) {
	upstream := &fakeOpenAI{}
	relay := newRelay(t, upstream.serve(t), config.RelayConfig{APIKey: "secret"})

	for _, key := range []string{"", "wrong"} {
		resp := post(t, relay.URL, key, explainRequest)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "Unauthorized", decodeError(t, resp))
	}
	assert.Empty(t, upstream.requests)
}

func TestRelayValidatesBody(t *testing.T) {
	relay := newRelay(t, (&fakeOpenAI{}).serve(t), config.RelayConfig{})

	tests := []struct {
		name string
		body any
	}{
		{"no messages", backend.ChatRequest{SnippetCode: "x"}},
		{"bad role", backend.ChatRequest{Messages: []backend.ChatMessage{{Role: "system", Content: "hi"}}}},
		{"blank content", backend.ChatRequest{Messages: []backend.ChatMessage{{Role: session.RoleUser, Content: " "}}}},
		{"not an object", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, relay.URL, "", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, decodeError(t, resp))
		})
	}
}

func TestRelayMapsUpstreamErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    int
		message string
	}{
		{"rate limit", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, http.StatusTooManyRequests, "Rate limit exceeded"},
		{"quota", http.StatusTooManyRequests, `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`, http.StatusPaymentRequired, "Usage limit reached"},
		{"payment", http.StatusPaymentRequired, `{"error":{"message":"pay up","type":"billing"}}`, http.StatusPaymentRequired, "Usage limit reached"},
		{"server", http.StatusInternalServerError, `{"error":{"message":"The server had an error","type":"server_error"}}`, http.StatusInternalServerError, "The server had an error"},
		{"garbage", http.StatusBadGateway, `<html>bad gateway</html>`, http.StatusInternalServerError, "AI service error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := &fakeOpenAI{status: tt.status, errBody: tt.body}
			relay := newRelay(t, upstream.serve(t), config.RelayConfig{})

			resp := post(t, relay.URL, "", explainRequest)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, tt.message, decodeError(t, resp))
		})
	}
}

func TestRelaySendsKeepAlive(t *testing.T) {
	events := make(chan Event)
	llm := streamerFunc(func(context.Context, []openai.ChatCompletionMessage) (<-chan Event, error) {
		return events, nil
	})
	relay := serveRelay(t, llm, config.RelayConfig{KeepAlive: 10 * time.Millisecond})

	go func() {
		time.Sleep(50 * time.Millisecond)
		events <- Event{Delta: "late"}
		events <- Event{Done: true}
		close(events)
	}()

	resp := post(t, relay.URL, "", explainRequest)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), ": ping\n\n")
	assert.Contains(t, string(body), `"content":"late"`)
	assert.True(t, strings.HasSuffix(string(body), "data: [DONE]\n\n"))
}

func TestRelayAbortsOnUpstreamStreamError(t *testing.T) {
	llm := streamerFunc(func(context.Context, []openai.ChatCompletionMessage) (<-chan Event, error) {
		ch := make(chan Event, 2)
		ch <- Event{Delta: "partial"}
		ch <- Event{Err: errors.New("upstream reset")}
		close(ch)
		return ch, nil
	})
	relay := serveRelay(t, llm, config.RelayConfig{})

	resp := post(t, relay.URL, "", explainRequest)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	assert.Error(t, err)
	assert.NotContains(t, string(body), "[DONE]")
}

func TestRelayAbortsWhenStreamClosesWithoutDone(t *testing.T) {
	llm := streamerFunc(func(context.Context, []openai.ChatCompletionMessage) (<-chan Event, error) {
		ch := make(chan Event, 1)
		ch <- Event{Delta: "partial"}
		close(ch)
		return ch, nil
	})
	relay := serveRelay(t, llm, config.RelayConfig{})

	resp := post(t, relay.URL, "", explainRequest)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	assert.Error(t, err)
	assert.Contains(t, string(body), "partial")
	assert.NotContains(t, string(body), "[DONE]")
}

func TestRelayHealthz(t *testing.T) {
	relay := serveRelay(t, streamerFunc(nil), config.RelayConfig{APIKey: "secret"})

	resp, err := http.Get(relay.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestNewOpenAICompatibleRequiresKey(t *testing.T) {
	openaiUpstream, err := backend.LookupUpstream(config.BackendOpenAI, "")
	require.NoError(t, err)
	_, err = NewOpenAICompatible(openaiUpstream, "", "gpt-4o-mini", 0, nil)
	assert.Error(t, err)

	ollama, err := backend.LookupUpstream(config.BackendOllama, "")
	require.NoError(t, err)
	_, err = NewOpenAICompatible(ollama, "", "llama3:latest", 0, nil)
	assert.NoError(t, err)
}

func TestSystemPrompt(t *testing.T) {
	p := SystemPrompt("quicksort", "typescript", "const a = 1;\n")
	assert.Contains(t, p, "Snippet: quicksort")
	assert.Contains(t, p, "Language: typescript")
	assert.Contains(t, p, "```typescript\nconst a = 1;\n```")

	p = SystemPrompt("", "", "x")
	assert.Contains(t, p, "Snippet: untitled")
	assert.Contains(t, p, "Language: plaintext")
}

// TestMentorEndToEnd drives a controller against the relay, an emulated upstream and sqlite
func TestMentorEndToEnd(t *testing.T) {
	ctx := context.Background()
	upstream := &fakeOpenAI{deltas: []string{"It adds ", "two numbers."}}
	relay := newRelay(t, upstream.serve(t), config.RelayConfig{APIKey: "secret"})

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	client := mentor.NewHTTPClient(relay.URL+MentorPath, "secret", nil)
	ctrl := mentor.NewController("snippet-e2e", st, client)
	require.NoError(t, ctrl.LoadHistory(ctx))

	snippet := mentor.SnippetContext{Code: explainRequest.SnippetCode, Name: "add", Language: "python"}
	require.NoError(t, ctrl.Send(ctx, "Explain this code", snippet))

	turns := ctrl.Timeline().Snapshot().Turns
	require.Len(t, turns, 2)
	assert.Equal(t, "It adds two numbers.", turns[1].Content)

	persisted, err := st.ListMessages(ctx, "snippet-e2e")
	require.NoError(t, err)
	require.Len(t, persisted, 2)
	assert.Equal(t, turns[0].ID, persisted[0].ID)
	assert.Equal(t, turns[1].ID, persisted[1].ID)
	assert.Equal(t, session.RoleAssistant, persisted[1].Role)

	reloaded := mentor.NewController("snippet-e2e", st, client)
	require.NoError(t, reloaded.LoadHistory(ctx))
	assert.Len(t, reloaded.Timeline().Snapshot().Turns, 2)

	upstream.fail(http.StatusTooManyRequests, `{"error":{"message":"slow","type":"requests"}}`)
	err = ctrl.Send(ctx, "And its complexity?", snippet)
	assert.Equal(t, mentor.KindRateLimited, mentor.KindOf(err))
	assert.Equal(t, "Rate limit exceeded. Please try again later.", mentor.Message(err))
	assert.Len(t, ctrl.Timeline().Snapshot().Turns, 3)
}

func TestUpstreamStatus(t *testing.T) {
	status, msg := upstreamStatus(errors.New("dial tcp: refused"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "AI service error", msg)

	status, _ = upstreamStatus(&openai.RequestError{HTTPStatusCode: http.StatusTooManyRequests, Err: errors.New("x")})
	assert.Equal(t, http.StatusTooManyRequests, status)
}
