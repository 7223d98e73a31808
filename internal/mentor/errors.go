package mentor

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed mentor operation for the user-facing notification
type Kind string

const (
	KindNone           Kind = ""
	KindSendInFlight   Kind = "concurrent-send-rejected"
	KindPersistence    Kind = "persistence-failure"
	KindRateLimited    Kind = "rate-limited"
	KindQuotaExhausted Kind = "quota-exhausted"
	KindRequestFailed  Kind = "generic-request-failure"
	KindTransport      Kind = "stream-transport-failure"
)

var (
	ErrSendInFlight   = errors.New("a mentor reply is already in progress")
	ErrPersistence    = errors.New("failed to persist mentor history")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrQuotaExhausted = errors.New("usage limit reached")
	ErrRequestFailed  = errors.New("AI service error")
	ErrTransport      = errors.New("mentor stream interrupted")
	ErrIdleTimeout    = errors.New("mentor stream idle timeout")
)

// RequestError is a non-success response of the mentor endpoint
type RequestError struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("mentor request failed (%d): %s", e.Status, e.Message)
}

func (e *RequestError) Unwrap() error {
	switch e.Kind {
	case KindRateLimited:
		return ErrRateLimited
	case KindQuotaExhausted:
		return ErrQuotaExhausted
	default:
		return ErrRequestFailed
	}
}

// classifyStatus maps a non-success status and the server's message to a RequestError
func classifyStatus(status int, serverMessage string) *RequestError {
	switch status {
	case http.StatusTooManyRequests:
		return &RequestError{Kind: KindRateLimited, Status: status, Message: "Rate limit exceeded. Please try again later."}
	case http.StatusPaymentRequired:
		return &RequestError{Kind: KindQuotaExhausted, Status: status, Message: "Usage limit reached. Please add credits."}
	}
	if serverMessage == "" {
		serverMessage = ErrRequestFailed.Error()
	}
	return &RequestError{Kind: KindRequestFailed, Status: status, Message: serverMessage}
}

// Persistence operations
const (
	OpLoad              = "load history"
	OpSaveUserTurn      = "save user turn"
	OpSaveAssistantTurn = "save assistant turn"
	OpClear             = "clear history"
)

// PersistError reports a failed store call. The in-memory timeline is kept as is.
type PersistError struct {
	Op     string
	TurnID string
	Err    error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// StreamError reports a turn aborted while the reply was being received.
// Partial is set when the timeline kept the content that did arrive.
type StreamError struct {
	Err     error
	Partial bool
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("mentor stream interrupted: %v", e.Err)
}

func (e *StreamError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// KindOf returns the class of err. Request failures win over persistence
// failures when a send reports both.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind
	}
	switch {
	case errors.Is(err, ErrSendInFlight):
		return KindSendInFlight
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	}
	return KindRequestFailed
}

// Message returns the text of the notification shown for err
func Message(err error) string {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Message
	}
	return err.Error()
}
