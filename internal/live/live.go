package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"SnippetVault/internal/cache"
	"SnippetVault/internal/mentor"
	"SnippetVault/internal/session"
	"SnippetVault/internal/store"
	"SnippetVault/internal/vault"

	"github.com/gorilla/websocket"
)

// Message types pushed to clients
const (
	TypeTimeline = "timeline"
	TypeError    = "error"
)

// Command types accepted from clients
const (
	CommandSend   = "send"
	CommandClear  = "clear"
	CommandReload = "reload"
)

const readLimit = 64 << 10

// Vault is the read side of the store the server needs
type Vault interface {
	GetSnippet(ctx context.Context, id string) (vault.Snippet, error)
	ListSnippets(ctx context.Context) ([]vault.Snippet, error)
	ListFolders(ctx context.Context) ([]vault.Folder, error)
}

// Message is a server push
type Message struct {
	Type     string            `json:"type"`
	Timeline *session.Snapshot `json:"timeline,omitempty"`
	Kind     mentor.Kind       `json:"kind,omitempty"`
	Message  string            `json:"message,omitempty"`
}

// Command is a client request
type Command struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// Server publishes mentor timelines over websockets
type Server struct {
	vault    Vault
	sessions *cache.Sessions
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates the live server
func NewServer(v Vault, sessions *cache.Sessions, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		vault:    v,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}
}

// Handler returns the HTTP routes of the live server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/snippets/{id}/mentor", s.handleMentor)
	mux.HandleFunc("GET /api/snippets", s.handleSnippets)
	mux.HandleFunc("GET /api/folders", s.handleFolders)
	return mux
}

func (s *Server) handleSnippets(w http.ResponseWriter, r *http.Request) {
	snippets, err := s.vault.ListSnippets(r.Context())
	if err != nil {
		s.logger.Error("failed to list snippets", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list snippets"})
		return
	}

	q := r.URL.Query()
	query := vault.Query{Text: q.Get("q"), FolderID: q.Get("folder")}
	if langs := q.Get("languages"); langs != "" {
		query.Languages = strings.Split(langs, ",")
	}
	if tags := q.Get("tags"); tags != "" {
		query.Tags = strings.Split(tags, ",")
	}
	writeJSON(w, http.StatusOK, vault.Filter(snippets, query))
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.vault.ListFolders(r.Context())
	if err != nil {
		s.logger.Error("failed to list folders", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list folders"})
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleMentor(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.vault.GetSnippet(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "snippet not found"})
			return
		}
		s.logger.Error("failed to load snippet", "snippet_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load snippet"})
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "snippet_id", id, "error", err)
		return
	}
	ws.SetReadLimit(readLimit)

	c := newConn(ws)
	defer c.close()

	ctrl := s.sessions.Get(id)
	logger := s.logger.With("snippet_id", id, "remote", r.RemoteAddr)
	logger.Info("mentor socket opened")
	defer logger.Info("mentor socket closed")

	unsubscribe := ctrl.Timeline().Subscribe(c.publish)
	defer unsubscribe()

	// Turns outlive the socket that started them; other sockets may be watching.
	base := context.WithoutCancel(r.Context())

	if err := ctrl.LoadHistory(r.Context()); err != nil && !errors.Is(err, mentor.ErrSendInFlight) {
		c.pushError(err)
	}
	c.publish(ctrl.Timeline().Snapshot())

	go c.writeLoop(logger)

	for {
		var cmd Command
		if err := ws.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("mentor socket read ended", "error", err)
			}
			return
		}
		go s.run(base, c, ctrl, id, cmd, logger)
	}
}

func (s *Server) run(ctx context.Context, c *conn, ctrl *mentor.Controller, id string, cmd Command, logger *slog.Logger) {
	var err error
	switch cmd.Type {
	case CommandSend:
		var sn vault.Snippet
		sn, err = s.vault.GetSnippet(ctx, id)
		if err != nil {
			logger.Error("failed to load snippet for mentor", "error", err)
			c.pushMessage(Message{Type: TypeError, Kind: mentor.KindRequestFailed, Message: "snippet unavailable"})
			return
		}
		err = ctrl.Send(ctx, cmd.Content, mentor.SnippetContext{
			Code:     sn.Code,
			Name:     sn.Name,
			Language: sn.Language,
		})
	case CommandClear:
		err = ctrl.Clear(ctx)
	case CommandReload:
		err = ctrl.LoadHistory(ctx)
	default:
		c.pushMessage(Message{Type: TypeError, Kind: mentor.KindRequestFailed, Message: "unknown command: " + cmd.Type})
		return
	}
	if err != nil {
		logger.Debug("mentor command failed", "command", cmd.Type, "error", err)
		c.pushError(err)
	}
}

// conn serializes writes to one websocket. Snapshots coalesce: only the latest
// pending one is written, since each carries the whole timeline.
type conn struct {
	ws *websocket.Conn

	mu       sync.Mutex
	latest   *session.Snapshot
	messages []Message

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:   ws,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (c *conn) publish(snap session.Snapshot) {
	c.mu.Lock()
	c.latest = &snap
	c.mu.Unlock()
	c.signal()
}

func (c *conn) pushError(err error) {
	c.pushMessage(Message{Type: TypeError, Kind: mentor.KindOf(err), Message: mentor.Message(err)})
}

func (c *conn) pushMessage(m Message) {
	c.mu.Lock()
	c.messages = append(c.messages, m)
	c.mu.Unlock()
	c.signal()
}

func (c *conn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *conn) writeLoop(logger *slog.Logger) {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		c.mu.Lock()
		snap, messages := c.latest, c.messages
		c.latest, c.messages = nil, nil
		c.mu.Unlock()

		if snap != nil {
			if err := c.ws.WriteJSON(Message{Type: TypeTimeline, Timeline: snap}); err != nil {
				logger.Debug("failed to write snapshot", "error", err)
				return
			}
		}
		for _, m := range messages {
			if err := c.ws.WriteJSON(m); err != nil {
				logger.Debug("failed to write message", "error", err)
				return
			}
		}
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}
