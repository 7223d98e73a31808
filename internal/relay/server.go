package relay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"SnippetVault/internal/backend"
	"SnippetVault/internal/config"
	"SnippetVault/internal/telemetry"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// MentorPath is the route of the streaming chat endpoint
const MentorPath = "/functions/v1/vault-mentor"

const maxBodyBytes = 1 << 20

// Server serves the mentor endpoint on top of an upstream Streamer
type Server struct {
	apiKey        string
	llm           Streamer
	keepAlive     time.Duration
	upstreamLimit time.Duration
	logger        *slog.Logger
	tracer        trace.Tracer
	duration      metric.Float64Histogram
	requests      metric.Int64Counter
}

// NewServer creates the relay. An empty cfg.APIKey disables authentication.
func NewServer(cfg config.RelayConfig, llm Streamer, logger *slog.Logger, p telemetry.Providers) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if p.Tracer == nil || p.Meter == nil {
		p = telemetry.Global("SnippetVault/relay")
	}
	s := &Server{
		apiKey:        cfg.APIKey,
		llm:           llm,
		keepAlive:     cfg.KeepAlive,
		upstreamLimit: cfg.UpstreamLimit,
		logger:        logger,
		tracer:        p.Tracer,
	}

	var err error
	if s.duration, err = p.Meter.Float64Histogram("relay.upstream.duration",
		metric.WithDescription("Upstream completion duration in milliseconds")); err != nil {
		s.duration, _ = noop.NewMeterProvider().Meter("relay").Float64Histogram("relay.upstream.duration")
	}
	if s.requests, err = p.Meter.Int64Counter("relay.requests",
		metric.WithDescription("Mentor requests by response status")); err != nil {
		s.requests, _ = noop.NewMeterProvider().Meter("relay").Int64Counter("relay.requests")
	}
	return s
}

// Handler returns the HTTP routes of the relay
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+MentorPath, s.handleMentor)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) handleMentor(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "relay.mentor")
	defer span.End()

	if !s.authorized(r) {
		s.writeError(ctx, w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req backend.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	span.SetAttributes(
		attribute.String("snippet.language", req.SnippetLanguage),
		attribute.Int("mentor.messages", len(req.Messages)),
	)

	if s.upstreamLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.upstreamLimit)
		defer cancel()
	}

	start := time.Now()
	events, err := s.llm.StreamChat(ctx, buildMessages(req))
	if err != nil {
		status, msg := upstreamStatus(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream refused")
		s.logger.Error("upstream request failed", "status", status, "error", err)
		s.writeError(ctx, w, status, msg)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(ctx, w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	s.requests.Add(ctx, 1, metric.WithAttributes(attribute.Int("status", http.StatusOK)))

	var tick <-chan time.Time
	if s.keepAlive > 0 {
		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	fragments := 0
	defer func() {
		s.duration.Record(ctx, float64(time.Since(start).Milliseconds()))
		span.SetAttributes(attribute.Int("mentor.fragments", fragments))
	}()

	for {
		select {
		case ev, open := <-events:
			if !open {
				// Closed without a final event: the upstream goroutine gave up.
				span.SetStatus(codes.Error, "upstream stream closed")
				s.logger.Error("upstream stream closed before completion", "fragments", fragments, "error", ctx.Err())
				if r.Context().Err() == nil {
					panic(http.ErrAbortHandler)
				}
				return
			}
			if ev.Done {
				fmt.Fprint(w, "data: [DONE]\n\n")
				flusher.Flush()
				s.logger.Info("mentor stream completed", "fragments", fragments, "duration_ms", time.Since(start).Milliseconds())
				return
			}
			if ev.Err != nil {
				span.RecordError(ev.Err)
				span.SetStatus(codes.Error, "upstream stream failed")
				s.logger.Error("upstream stream failed", "fragments", fragments, "error", ev.Err)
				// Headers are out; abort the connection so the client sees a broken stream.
				panic(http.ErrAbortHandler)
			}
			data, err := json.Marshal(backend.TextChunk(ev.Delta))
			if err != nil {
				s.logger.Error("failed to marshal chunk", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			fragments++
		case <-tick:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-ctx.Done():
			s.logger.Warn("mentor stream canceled", "fragments", fragments, "error", ctx.Err())
			if r.Context().Err() == nil {
				panic(http.ErrAbortHandler)
			}
			return
		}
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.apiKey == "" {
		return true
	}
	got := r.Header.Get("Authorization")
	want := "Bearer " + s.apiKey
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	s.requests.Add(ctx, 1, metric.WithAttributes(attribute.Int("status", status)))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(backend.ErrorResponse{Error: msg})
}

// upstreamStatus maps an upstream failure to the status and message returned to the client
func upstreamStatus(err error) (int, string) {
	status, msg := 0, ""

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status, msg = apiErr.HTTPStatusCode, apiErr.Message
		if apiErr.Type == "insufficient_quota" || apiErr.Code == "insufficient_quota" {
			status = http.StatusPaymentRequired
		}
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusTooManyRequests:
		return status, "Rate limit exceeded"
	case http.StatusPaymentRequired:
		return status, "Usage limit reached"
	}
	if msg == "" {
		msg = "AI service error"
	}
	return http.StatusInternalServerError, msg
}
