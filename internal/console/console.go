package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"SnippetVault/internal/cache"
	"SnippetVault/internal/mentor"
	"SnippetVault/internal/session"
	"SnippetVault/internal/store"
	"SnippetVault/internal/vault"
)

// Store is the part of the vault store the console drives
type Store interface {
	ListFolders(ctx context.Context) ([]vault.Folder, error)
	CreateFolder(ctx context.Context, name, color string) (vault.Folder, error)
	ListSnippets(ctx context.Context) ([]vault.Snippet, error)
	FindSnippet(ctx context.Context, prefix string) (vault.Snippet, error)
	CreateSnippet(ctx context.Context, sn vault.Snippet) (vault.Snippet, error)
	UpdateSnippet(ctx context.Context, id string, upd store.SnippetUpdate) (vault.Snippet, error)
	DeleteSnippet(ctx context.Context, id string) error
}

// Console is the interactive front end of the vault and its mentor
type Console struct {
	store    Store
	sessions *cache.Sessions
	scanner  *bufio.Scanner
	out      io.Writer
	logger   *slog.Logger

	current *vault.Snippet
}

// New creates a console reading commands from in and writing to out
func New(st Store, sessions *cache.Sessions, in io.Reader, out io.Writer, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		store:    st,
		sessions: sessions,
		scanner:  bufio.NewScanner(in),
		out:      out,
		logger:   logger,
	}
}

// Run reads input until /quit, EOF or ctx ends
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, "=== Snippet Vault ===")
	fmt.Fprintln(c.out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(c.out)

	for ctx.Err() == nil {
		fmt.Fprint(c.out, c.prompt())
		if !c.scanner.Scan() {
			break
		}

		input := strings.TrimSpace(c.scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := c.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
				c.logger.Error("command error", "command", input, "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		c.sendMessage(ctx, input)
	}

	if err := c.scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	fmt.Fprintln(c.out, "Goodbye!")
	return nil
}

func (c *Console) prompt() string {
	if c.current == nil {
		return "vault> "
	}
	return c.current.Name + "> "
}

// handleCommand runs a slash command and reports whether the console should exit
func (c *Console) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	args := parts[1:]

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		c.printHelp()
	case "/folders":
		return false, c.listFolders(ctx)
	case "/mkfolder":
		if len(args) == 0 {
			return false, fmt.Errorf("usage: /mkfolder <name> [color]")
		}
		color := ""
		if len(args) > 1 {
			color = args[1]
		}
		f, err := c.store.CreateFolder(ctx, args[0], color)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "Created folder %s (%s)\n", f.Name, short(f.ID))
	case "/snippets":
		snippets, err := c.store.ListSnippets(ctx)
		if err != nil {
			return false, err
		}
		c.printSnippets(snippets)
	case "/search":
		snippets, err := c.store.ListSnippets(ctx)
		if err != nil {
			return false, err
		}
		c.printSnippets(vault.Filter(snippets, vault.Query{Text: strings.Join(args, " ")}))
	case "/add":
		if len(args) < 2 {
			return false, fmt.Errorf("usage: /add <name> <language>")
		}
		return false, c.addSnippet(ctx, args[0], args[1])
	case "/open":
		if len(args) == 0 {
			return false, fmt.Errorf("usage: /open <id-prefix>")
		}
		return false, c.open(ctx, args[0])
	case "/tag":
		if len(args) == 0 {
			return false, fmt.Errorf("usage: /tag <name> [color]")
		}
		color := vault.TagColors[0]
		if len(args) > 1 {
			color = args[1]
		}
		return false, c.tag(ctx, vault.Tag{Name: args[0], Color: color})
	case "/history":
		ctrl, err := c.controller()
		if err != nil {
			return false, err
		}
		c.printHistory(ctrl.Timeline().Snapshot())
	case "/clear":
		ctrl, err := c.controller()
		if err != nil {
			return false, err
		}
		if err := ctrl.Clear(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(c.out, "Mentor history cleared")
	case "/rm":
		if c.current == nil {
			return false, errNoSnippet
		}
		if err := c.store.DeleteSnippet(ctx, c.current.ID); err != nil {
			return false, err
		}
		c.sessions.Remove(c.current.ID)
		fmt.Fprintf(c.out, "Deleted %s\n", c.current.Name)
		c.current = nil
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (try /help)\n", parts[0])
	}
	return false, nil
}

var errNoSnippet = errors.New("no snippet open, use /open <id-prefix>")

func (c *Console) controller() (*mentor.Controller, error) {
	if c.current == nil {
		return nil, errNoSnippet
	}
	return c.sessions.Get(c.current.ID), nil
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, "Available commands:")
	fmt.Fprintln(c.out, "  /folders                 - List folders with snippet counts")
	fmt.Fprintln(c.out, "  /mkfolder <name> [color] - Create a folder")
	fmt.Fprintln(c.out, "  /snippets                - List snippets, most recently updated first")
	fmt.Fprintln(c.out, "  /search <text>           - Search names, code, languages, tags and descriptions")
	fmt.Fprintln(c.out, "  /add <name> <language>   - Add a snippet, code is read until a line with a single '.'")
	fmt.Fprintln(c.out, "  /open <id-prefix>        - Open a snippet and its mentor chat")
	fmt.Fprintln(c.out, "  /tag <name> [color]      - Tag the open snippet")
	fmt.Fprintln(c.out, "  /history                 - Show the mentor chat of the open snippet")
	fmt.Fprintln(c.out, "  /clear                   - Delete the mentor chat of the open snippet")
	fmt.Fprintln(c.out, "  /rm                      - Delete the open snippet")
	fmt.Fprintln(c.out, "  /help                    - Show this help message")
	fmt.Fprintln(c.out, "  /quit, /exit             - Exit")
	fmt.Fprintln(c.out, "Any other text is sent to Vault Mentor about the open snippet.")
}

func (c *Console) listFolders(ctx context.Context) error {
	folders, err := c.store.ListFolders(ctx)
	if err != nil {
		return err
	}
	snippets, err := c.store.ListSnippets(ctx)
	if err != nil {
		return err
	}
	counts := vault.CountByFolder(snippets)

	fmt.Fprintf(c.out, "  %-8s  %-20s %d\n", "", "(unfiled)", counts[""])
	for _, f := range folders {
		fmt.Fprintf(c.out, "  %-8s  %-20s %d\n", short(f.ID), f.Name, counts[f.ID])
	}
	return nil
}

func (c *Console) printSnippets(snippets []vault.Snippet) {
	if len(snippets) == 0 {
		fmt.Fprintln(c.out, "No snippets found.")
		return
	}
	for _, s := range snippets {
		lang := s.Language
		if l, ok := vault.LookupLanguage(s.Language); ok {
			lang = l.Label
		}
		tags := make([]string, len(s.Tags))
		for i, t := range s.Tags {
			tags[i] = "#" + t.Name
		}
		fmt.Fprintf(c.out, "  %-8s  %-24s %-10s %s\n", short(s.ID), s.Name, lang, strings.Join(tags, " "))
	}
}

func (c *Console) addSnippet(ctx context.Context, name, language string) error {
	if _, ok := vault.LookupLanguage(language); !ok {
		return fmt.Errorf("unknown language: %s", language)
	}

	fmt.Fprintln(c.out, "Enter code, finish with a line containing only '.'")
	var lines []string
	for c.scanner.Scan() {
		line := c.scanner.Text()
		if line == "." {
			break
		}
		lines = append(lines, line)
	}

	sn, err := c.store.CreateSnippet(ctx, vault.Snippet{
		Name:     name,
		Code:     strings.Join(lines, "\n"),
		Language: language,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Added %s (%s)\n", sn.Name, short(sn.ID))
	c.current = &sn
	return nil
}

func (c *Console) open(ctx context.Context, prefix string) error {
	sn, err := c.store.FindSnippet(ctx, prefix)
	if err != nil {
		return err
	}
	c.current = &sn

	fmt.Fprintf(c.out, "--- %s (%s) ---\n%s\n---\n", sn.Name, sn.Language, sn.Code)

	ctrl := c.sessions.Get(sn.ID)
	if err := ctrl.LoadHistory(ctx); err != nil {
		return err
	}
	c.printHistory(ctrl.Timeline().Snapshot())
	return nil
}

func (c *Console) tag(ctx context.Context, t vault.Tag) error {
	if c.current == nil {
		return errNoSnippet
	}
	if c.current.HasTag(t.Name) {
		return nil
	}
	tags := append(append([]vault.Tag{}, c.current.Tags...), t)
	sn, err := c.store.UpdateSnippet(ctx, c.current.ID, store.SnippetUpdate{Tags: &tags})
	if err != nil {
		return err
	}
	c.current = &sn
	fmt.Fprintf(c.out, "Tagged %s with #%s\n", sn.Name, t.Name)
	return nil
}

func (c *Console) printHistory(snap session.Snapshot) {
	if len(snap.Turns) == 0 {
		fmt.Fprintln(c.out, "No mentor messages yet. Ask something like \"Explain this code\".")
		return
	}
	for _, t := range snap.Turns {
		fmt.Fprintf(c.out, "%s: %s%s\n\n", speaker(t.Role), t.Content, statusNote(t.Status))
	}
}

// sendMessage asks the mentor and renders the reply while it streams
func (c *Console) sendMessage(ctx context.Context, text string) {
	ctrl, err := c.controller()
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}

	r := &renderer{out: c.out}
	unsubscribe := ctrl.Timeline().Subscribe(r.observe)
	err = ctrl.Send(ctx, text, mentor.SnippetContext{
		Code:     c.current.Code,
		Name:     c.current.Name,
		Language: c.current.Language,
	})
	unsubscribe()
	r.finish()

	if err != nil {
		fmt.Fprintf(c.out, "Error: %s\n\n", mentor.Message(err))
		c.logger.Error("failed to send message", "kind", mentor.KindOf(err), "error", err)
	}
}

// renderer prints the growing suffix of the assistant turn being streamed
type renderer struct {
	out     io.Writer
	turnID  string
	printed int
}

func (r *renderer) observe(s session.Snapshot) {
	last, ok := s.Last()
	if !ok || last.Role != session.RoleAssistant {
		return
	}
	if last.ID != r.turnID {
		if last.Status != session.StatusStreaming {
			return
		}
		r.turnID, r.printed = last.ID, 0
		fmt.Fprint(r.out, "Mentor: ")
	}
	if len(last.Content) > r.printed {
		fmt.Fprint(r.out, last.Content[r.printed:])
		r.printed = len(last.Content)
	}
}

func (r *renderer) finish() {
	if r.turnID != "" {
		fmt.Fprint(r.out, "\n\n")
	}
}

func speaker(role session.Role) string {
	if role == session.RoleAssistant {
		return "Mentor"
	}
	return "You"
}

func statusNote(s session.Status) string {
	switch s {
	case session.StatusUnsaved:
		return " (not saved)"
	case session.StatusInterrupted:
		return " (interrupted)"
	}
	return ""
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
