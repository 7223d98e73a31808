package backend

import (
	"fmt"
	"strings"

	"SnippetVault/internal/session"
)

// ChatMessage is one history entry sent to the mentor endpoint
type ChatMessage struct {
	Role    session.Role `json:"role"`
	Content string       `json:"content"`
}

// ChatRequest represents the request body of the mentor endpoint
type ChatRequest struct {
	Messages        []ChatMessage `json:"messages"`
	SnippetCode     string        `json:"snippetCode"`
	SnippetName     string        `json:"snippetName"`
	SnippetLanguage string        `json:"snippetLanguage"`
}

// Validate checks a request before it is forwarded upstream
func (r ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	for i, m := range r.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("message %d: content must not be empty", i)
		}
	}
	return nil
}

// HistoryFrom converts timeline turns into request messages, keeping their order
func HistoryFrom(turns []session.Turn) []ChatMessage {
	msgs := make([]ChatMessage, len(turns))
	for i, t := range turns {
		msgs[i] = ChatMessage{Role: t.Role, Content: t.Content}
	}
	return msgs
}

// ErrorResponse is the JSON body of a non-success mentor response
type ErrorResponse struct {
	Error string `json:"error"`
}

// StreamChunk is the payload of one data frame of the mentor stream.
// It mirrors the OpenAI chat-completion chunk so clients can read choices[0].delta.content.
type StreamChunk struct {
	Choices []StreamChoice `json:"choices"`
}

// StreamChoice holds one choice of a StreamChunk
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// StreamDelta is the incremental part of a choice
type StreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// TextChunk builds the chunk carrying a single text fragment
func TextChunk(content string) StreamChunk {
	return StreamChunk{Choices: []StreamChoice{{Delta: StreamDelta{Content: content}}}}
}
