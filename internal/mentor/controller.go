package mentor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"SnippetVault/internal/backend"
	"SnippetVault/internal/session"
	"SnippetVault/internal/sse"
	"SnippetVault/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// MessageStore persists a snippet's mentor history
type MessageStore interface {
	ListMessages(ctx context.Context, snippetID string) ([]session.Turn, error)
	InsertMessage(ctx context.Context, snippetID string, turn session.Turn) error
	DeleteMessages(ctx context.Context, snippetID string) error
}

// SnippetContext is the snippet the mentor is asked about
type SnippetContext struct {
	Code     string
	Name     string
	Language string
}

// State is the lifecycle state of a Controller
type State int32

const (
	StateIdle State = iota
	StateLoading
	StateClearing
	StateSending
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateClearing:
		return "clearing"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	default:
		return "idle"
	}
}

const readBufferSize = 4096

// Controller drives the mentor chat of one snippet.
// Operations never overlap: while one runs, the others return ErrSendInFlight.
type Controller struct {
	snippetID string
	store     MessageStore
	client    StreamClient
	timeline  *Timeline
	state     atomic.Int32

	logger      *slog.Logger
	tracer      trace.Tracer
	turnTimeout time.Duration
	idleTimeout time.Duration
	now         func() time.Time

	fragments metric.Int64Counter
	turns     metric.Int64Counter
	failures  metric.Int64Counter
	duration  metric.Float64Histogram
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithTelemetry sets the tracer and meter
func WithTelemetry(p telemetry.Providers) Option {
	return func(c *Controller) {
		c.tracer = p.Tracer
		c.instrument(p.Meter)
	}
}

// WithTimeouts bounds a whole send and the silence between two reads of the stream.
// Zero disables the respective bound.
func WithTimeouts(turn, idle time.Duration) Option {
	return func(c *Controller) {
		c.turnTimeout = turn
		c.idleTimeout = idle
	}
}

// WithClock replaces time.Now for turn timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates the controller of a snippet's mentor session
func NewController(snippetID string, store MessageStore, client StreamClient, opts ...Option) *Controller {
	c := &Controller{
		snippetID: snippetID,
		store:     store,
		client:    client,
		timeline:  NewTimeline(snippetID),
		logger:    slog.Default(),
		now:       time.Now,
	}
	p := telemetry.Global("SnippetVault/mentor")
	c.tracer = p.Tracer
	c.instrument(p.Meter)

	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("snippet_id", snippetID)
	return c
}

func (c *Controller) instrument(meter metric.Meter) {
	fallback := noop.NewMeterProvider().Meter("mentor")
	var err error

	if c.fragments, err = meter.Int64Counter("mentor.fragments",
		metric.WithDescription("Assistant text fragments received")); err != nil {
		c.fragments, _ = fallback.Int64Counter("mentor.fragments")
	}
	if c.turns, err = meter.Int64Counter("mentor.turns",
		metric.WithDescription("Assistant turns persisted")); err != nil {
		c.turns, _ = fallback.Int64Counter("mentor.turns")
	}
	if c.failures, err = meter.Int64Counter("mentor.send.errors",
		metric.WithDescription("Failed mentor sends by kind")); err != nil {
		c.failures, _ = fallback.Int64Counter("mentor.send.errors")
	}
	if c.duration, err = meter.Float64Histogram("mentor.stream.duration",
		metric.WithDescription("Mentor stream duration in milliseconds")); err != nil {
		c.duration, _ = fallback.Float64Histogram("mentor.stream.duration")
	}
}

// SnippetID returns the snippet this controller belongs to
func (c *Controller) SnippetID() string {
	return c.snippetID
}

// Timeline returns the observable timeline
func (c *Controller) Timeline() *Timeline {
	return c.timeline
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) acquire(to State) bool {
	return c.state.CompareAndSwap(int32(StateIdle), int32(to))
}

func (c *Controller) release() {
	c.state.Store(int32(StateIdle))
}

// LoadHistory replaces the timeline with the persisted history, oldest first
func (c *Controller) LoadHistory(ctx context.Context) error {
	if !c.acquire(StateLoading) {
		return ErrSendInFlight
	}
	defer c.release()

	c.timeline.setLoading(true)
	defer c.timeline.setLoading(false)

	turns, err := c.store.ListMessages(ctx, c.snippetID)
	if err != nil {
		c.logger.Error("failed to load mentor history", "error", err)
		return &PersistError{Op: OpLoad, Err: err}
	}
	slices.SortStableFunc(turns, func(a, b session.Turn) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	c.timeline.reset(turns)
	c.logger.Debug("loaded mentor history", "turns", len(turns))
	return nil
}

// Clear deletes the persisted history and empties the timeline.
// On failure the timeline is left untouched.
func (c *Controller) Clear(ctx context.Context) error {
	if !c.acquire(StateClearing) {
		return ErrSendInFlight
	}
	defer c.release()

	if err := c.store.DeleteMessages(ctx, c.snippetID); err != nil {
		c.logger.Error("failed to clear mentor history", "error", err)
		return &PersistError{Op: OpClear, Err: err}
	}
	c.timeline.reset(nil)
	c.logger.Info("cleared mentor history")
	return nil
}

// Send runs one chat turn: the user's message is shown at once, persisted, and
// answered by a streamed assistant reply that is persisted once complete.
//
// Blank messages are ignored. A send while another operation runs returns
// ErrSendInFlight without touching the timeline. Errors from persistence and from
// the request are joined; use KindOf to classify them.
func (c *Controller) Send(ctx context.Context, message string, snippet SnippetContext) error {
	text := strings.TrimSpace(message)
	if text == "" {
		c.logger.Debug("ignored empty mentor message")
		return nil
	}
	if !c.acquire(StateSending) {
		c.logger.Warn("rejected mentor send while another is in flight", "state", c.State().String())
		return ErrSendInFlight
	}
	defer c.release()

	ctx, span := c.tracer.Start(ctx, "mentor.send", trace.WithAttributes(
		attribute.String("snippet.id", c.snippetID),
		attribute.String("snippet.language", snippet.Language),
	))
	defer span.End()

	if c.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.turnTimeout)
		defer cancel()
	}

	c.timeline.setLoading(true)
	defer c.timeline.setLoading(false)

	user := session.NewTurn(session.RoleUser, text, c.now())
	c.timeline.append(user)
	history := c.timeline.Snapshot().Turns

	var errs []error
	if err := c.persist(ctx, user, OpSaveUserTurn); err != nil {
		errs = append(errs, err)
	}
	if err := c.stream(ctx, history, snippet); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		kind := KindOf(err)
		c.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		c.logger.Error("mentor send failed", "kind", kind, "error", err)
	}
	return err
}

// persist stores a finished turn and records the outcome on the timeline
func (c *Controller) persist(ctx context.Context, turn session.Turn, op string) error {
	ctx, span := c.tracer.Start(ctx, "mentor.persist", trace.WithAttributes(
		attribute.String("turn.role", string(turn.Role)),
	))
	defer span.End()

	if err := c.store.InsertMessage(ctx, c.snippetID, turn); err != nil {
		c.timeline.setStatus(turn.ID, session.StatusUnsaved)
		span.RecordError(err)
		c.logger.Warn("failed to persist mentor turn", "turn_id", turn.ID, "role", turn.Role, "error", err)
		return &PersistError{Op: op, TurnID: turn.ID, Err: err}
	}
	c.timeline.setStatus(turn.ID, session.StatusSaved)
	return nil
}

// stream requests the assistant reply and folds it into the timeline
func (c *Controller) stream(ctx context.Context, history []session.Turn, snippet SnippetContext) error {
	ctx, span := c.tracer.Start(ctx, "mentor.stream")
	defer span.End()
	start := time.Now()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	idle := c.startIdleTimer(cancel)
	defer idle.Stop()

	body, err := c.client.Stream(ctx, backend.ChatRequest{
		Messages:        backend.HistoryFrom(history),
		SnippetCode:     snippet.Code,
		SnippetName:     snippet.Name,
		SnippetLanguage: snippet.Language,
	})
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			return reqErr
		}
		return &StreamError{Err: causeOf(ctx, err)}
	}
	defer body.Close()

	c.state.Store(int32(StateStreaming))
	assistant := session.NewTurn(session.RoleAssistant, "", c.now())
	assistant.Status = session.StatusStreaming
	c.timeline.append(assistant)
	c.timeline.setInProgress(true)
	defer c.timeline.setInProgress(false)

	acc, readErr := c.consume(ctx, body, assistant.ID, idle)
	idle.Stop()

	c.duration.Record(ctx, float64(time.Since(start).Milliseconds()))
	span.SetAttributes(attribute.Int("mentor.fragments", acc.Fragments()))

	if readErr != nil {
		if acc.Empty() {
			c.timeline.remove(assistant.ID)
		} else {
			c.timeline.setStatus(assistant.ID, session.StatusInterrupted)
		}
		return &StreamError{Err: readErr, Partial: !acc.Empty()}
	}

	if acc.Empty() {
		c.timeline.remove(assistant.ID)
		c.logger.Info("mentor stream ended without content")
		return nil
	}

	assistant.Content = acc.String()
	if err := c.persist(ctx, assistant, OpSaveAssistantTurn); err != nil {
		return err
	}
	c.turns.Add(ctx, 1)
	c.logger.Info("mentor reply completed", "turn_id", assistant.ID, "fragments", acc.Fragments(), "chars", len(assistant.Content))
	return nil
}

// consume reads the body until the sentinel, EOF or an error
func (c *Controller) consume(ctx context.Context, body io.Reader, turnID string, idle *idleTimer) (*sse.Accumulator, error) {
	dec := sse.NewDecoder()
	acc := &sse.Accumulator{}
	buf := make([]byte, readBufferSize)

	apply := func(fragments []string) {
		for _, f := range fragments {
			c.timeline.setContent(turnID, acc.Add(f))
		}
		if n := len(fragments); n > 0 {
			c.fragments.Add(ctx, int64(n))
		}
	}

	defer func() {
		if dropped := dec.Dropped(); dropped > 0 {
			c.logger.Warn("dropped malformed stream frames", "count", dropped)
		}
	}()

	for !dec.Done() {
		if ctx.Err() != nil {
			return acc, causeOf(ctx, ctx.Err())
		}

		n, err := body.Read(buf)
		if n > 0 {
			idle.Reset()
			apply(dec.Feed(buf[:n]))
		}
		if errors.Is(err, io.EOF) {
			apply(dec.Flush())
			return acc, nil
		}
		if err != nil {
			return acc, causeOf(ctx, err)
		}
	}
	return acc, nil
}

// causeOf prefers the cancellation cause (such as ErrIdleTimeout) over the
// generic error a canceled read returns
func causeOf(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		if errors.Is(err, cause) {
			return err
		}
		return errors.Join(cause, err)
	}
	return err
}

// idleTimer cancels the stream when no bytes arrive for the configured time
type idleTimer struct {
	timer *time.Timer
	d     time.Duration
}

func (c *Controller) startIdleTimer(cancel context.CancelCauseFunc) *idleTimer {
	if c.idleTimeout <= 0 {
		return &idleTimer{}
	}
	return &idleTimer{
		timer: time.AfterFunc(c.idleTimeout, func() { cancel(ErrIdleTimeout) }),
		d:     c.idleTimeout,
	}
}

func (t *idleTimer) Reset() {
	if t.timer != nil {
		t.timer.Reset(t.d)
	}
}

func (t *idleTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}
