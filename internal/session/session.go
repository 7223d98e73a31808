package session

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role the mentor endpoint accepts
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Status describes how far a turn got on its way to the store.
// It only lives in memory; turns loaded from the store are StatusSaved.
type Status string

const (
	StatusPending     Status = "pending"
	StatusSaved       Status = "saved"
	StatusUnsaved     Status = "unsaved"
	StatusStreaming   Status = "streaming"
	StatusInterrupted Status = "interrupted"
)

// Turn represents a single message of a mentor chat
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Status    Status    `json:"status,omitempty"`
}

// NewTurn creates a turn with a locally generated identifier.
// Identifiers share the store's namespace, so no remapping happens after persistence.
func NewTurn(role Role, content string, now time.Time) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: now,
		Status:    StatusPending,
	}
}

// Snapshot is an immutable view of a session's timeline
type Snapshot struct {
	SnippetID  string `json:"snippet_id"`
	Turns      []Turn `json:"turns"`
	InProgress bool   `json:"in_progress"`
	Loading    bool   `json:"loading"`
}

// Last returns the most recent turn, if any
func (s Snapshot) Last() (Turn, bool) {
	if len(s.Turns) == 0 {
		return Turn{}, false
	}
	return s.Turns[len(s.Turns)-1], true
}
