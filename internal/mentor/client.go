package mentor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"SnippetVault/internal/backend"
)

// StreamClient opens the streaming chat request of one turn.
// A non-success response is returned as *RequestError; on success the caller owns the body.
type StreamClient interface {
	Stream(ctx context.Context, req backend.ChatRequest) (io.ReadCloser, error)
}

// HTTPClient talks to the mentor endpoint over HTTP
type HTTPClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates a client for the endpoint at url.
// Timeouts come from the request context, the stream has no fixed length.
func NewHTTPClient(url, apiKey string, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 0},
		logger:     logger,
	}
}

// Stream posts the request and returns the event-stream body
func (c *HTTPClient) Stream(ctx context.Context, chatReq backend.ChatRequest) (io.ReadCloser, error) {
	jsonData, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		var errResp backend.ErrorResponse
		_ = json.Unmarshal(body, &errResp)

		reqErr := classifyStatus(resp.StatusCode, errResp.Error)
		c.logger.Warn("mentor request rejected", "status", resp.StatusCode, "kind", reqErr.Kind, "body", string(body))
		return nil, reqErr
	}

	return resp.Body, nil
}
