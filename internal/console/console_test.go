package console

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"SnippetVault/internal/backend"
	"SnippetVault/internal/cache"
	"SnippetVault/internal/mentor"
	"SnippetVault/internal/session"
	"SnippetVault/internal/store"
	"SnippetVault/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsole(t *testing.T, handler http.HandlerFunc, script string) (*Console, *store.Store, *bytes.Buffer) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	sessions := cache.NewSessions(time.Minute, func(snippetID string) *mentor.Controller {
		return mentor.NewController(snippetID, st, mentor.NewHTTPClient(srv.URL, "", nil))
	}, nil)

	out := &bytes.Buffer{}
	return New(st, sessions, strings.NewReader(script), out, nil), st, out
}

func replyWith(fragments ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range fragments {
			data, _ := json.Marshal(backend.TextChunk(f))
			io.WriteString(w, "data: "+string(data)+"\n\n")
			w.(http.Flusher).Flush()
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}
}

func TestConsoleAddAskAndPersist(t *testing.T) {
	script := strings.Join([]string{
		"/add greet python",
		"def greet(name):",
		"    return f'hi {name}'",
		".",
		"Explain this code",
		"/quit",
	}, "\n")
	c, st, out := newTestConsole(t, replyWith("It ", "greets."), script)

	require.NoError(t, c.Run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "Added greet")
	assert.Contains(t, text, "Mentor: It greets.\n\n")
	assert.Contains(t, text, "Goodbye!")

	snippets, err := st.ListSnippets(context.Background())
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, "def greet(name):\n    return f'hi {name}'", snippets[0].Code)

	turns, err := st.ListMessages(context.Background(), snippets[0].ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, session.RoleUser, turns[0].Role)
	assert.Equal(t, "It greets.", turns[1].Content)
}

func TestConsoleOpenShowsHistory(t *testing.T) {
	c, st, out := newTestConsole(t, replyWith(), "")
	ctx := context.Background()

	sn, err := st.CreateSnippet(ctx, vault.Snippet{Name: "sum", Code: "a + b", Language: "javascript"})
	require.NoError(t, err)
	require.NoError(t, st.InsertMessage(ctx, sn.ID, session.NewTurn(session.RoleUser, "What is this?", time.Now())))

	quit, err := c.handleCommand(ctx, "/open "+sn.ID[:6])
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Contains(t, out.String(), "--- sum (javascript) ---")
	assert.Contains(t, out.String(), "You: What is this?")
	assert.Equal(t, "sum> ", c.prompt())
}

func TestConsoleRateLimitIsReported(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}
	c, st, out := newTestConsole(t, handler, "")
	ctx := context.Background()
	sn, err := st.CreateSnippet(ctx, vault.Snippet{Name: "x", Code: "x", Language: "bash"})
	require.NoError(t, err)
	c.current = &sn

	c.sendMessage(ctx, "hello")
	assert.Contains(t, out.String(), "Error: Rate limit exceeded. Please try again later.")
	assert.NotContains(t, out.String(), "Mentor:")
}

func TestConsoleRequiresOpenSnippet(t *testing.T) {
	c, _, out := newTestConsole(t, replyWith("x"), "")
	ctx := context.Background()

	c.sendMessage(ctx, "hello")
	assert.Contains(t, out.String(), errNoSnippet.Error())

	for _, cmd := range []string{"/history", "/clear", "/rm", "/tag x"} {
		_, err := c.handleCommand(ctx, cmd)
		assert.ErrorIs(t, err, errNoSnippet, cmd)
	}
}

func TestConsoleFoldersSearchTagAndRemove(t *testing.T) {
	c, st, out := newTestConsole(t, replyWith(), "")
	ctx := context.Background()

	_, err := c.handleCommand(ctx, "/mkfolder Algorithms")
	require.NoError(t, err)
	folders, err := st.ListFolders(ctx)
	require.NoError(t, err)
	require.Len(t, folders, 1)

	sn, err := st.CreateSnippet(ctx, vault.Snippet{Name: "bsearch", Code: "lo, hi := 0, n", Language: "c", FolderID: folders[0].ID})
	require.NoError(t, err)
	_, err = st.CreateSnippet(ctx, vault.Snippet{Name: "reset", Code: "* {}", Language: "css"})
	require.NoError(t, err)

	out.Reset()
	_, err = c.handleCommand(ctx, "/folders")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "(unfiled)")
	assert.Contains(t, out.String(), "Algorithms")

	out.Reset()
	_, err = c.handleCommand(ctx, "/search BSEARCH")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "bsearch")
	assert.NotContains(t, out.String(), "reset")

	_, err = c.handleCommand(ctx, "/open "+sn.ID)
	require.NoError(t, err)
	_, err = c.handleCommand(ctx, "/tag sorting #ef4444")
	require.NoError(t, err)
	got, err := st.GetSnippet(ctx, sn.ID)
	require.NoError(t, err)
	assert.Equal(t, []vault.Tag{{Name: "sorting", Color: "#ef4444"}}, got.Tags)

	_, err = c.handleCommand(ctx, "/rm")
	require.NoError(t, err)
	assert.Nil(t, c.current)
	_, err = st.GetSnippet(ctx, sn.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConsoleAddRejectsUnknownLanguage(t *testing.T) {
	c, _, _ := newTestConsole(t, replyWith(), "")
	_, err := c.handleCommand(context.Background(), "/add x cobol")
	assert.Error(t, err)
}

func TestRendererPrintsGrowingSuffix(t *testing.T) {
	out := &bytes.Buffer{}
	r := &renderer{out: out}

	old := session.Turn{ID: "old", Role: session.RoleAssistant, Content: "previous", Status: session.StatusSaved}
	r.observe(session.Snapshot{Turns: []session.Turn{old}})
	assert.Empty(t, out.String())

	turn := session.Turn{ID: "new", Role: session.RoleAssistant, Status: session.StatusStreaming}
	for _, content := range []string{"", "Hel", "Hello", "Hello"} {
		turn.Content = content
		r.observe(session.Snapshot{Turns: []session.Turn{old, turn}})
	}
	turn.Status = session.StatusSaved
	r.observe(session.Snapshot{Turns: []session.Turn{old, turn}})
	r.finish()

	assert.Equal(t, "Mentor: Hello\n\n", out.String())
}
