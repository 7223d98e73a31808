package sse

import (
	"strings"

	"github.com/tidwall/gjson"
)

// DeltaPath is where chat-completion chunks carry their text
const DeltaPath = "choices.0.delta.content"

// Valid reports whether payload is a complete JSON document
func Valid(payload string) bool {
	return gjson.Valid(payload)
}

// Fragment extracts the incremental text of a chunk payload.
// Role-only, usage and other metadata chunks yield no fragment.
func Fragment(payload string) (string, bool) {
	r := gjson.Get(payload, DeltaPath)
	if r.Type != gjson.String || r.Str == "" {
		return "", false
	}
	return r.Str, true
}

// Accumulator folds fragments into the running assistant reply
type Accumulator struct {
	b         strings.Builder
	fragments int
}

// Add appends a fragment and returns the content accumulated so far
func (a *Accumulator) Add(fragment string) string {
	a.b.WriteString(fragment)
	a.fragments++
	return a.b.String()
}

func (a *Accumulator) String() string {
	return a.b.String()
}

// Fragments returns the number of fragments added
func (a *Accumulator) Fragments() int {
	return a.fragments
}

// Empty reports whether nothing has been accumulated
func (a *Accumulator) Empty() bool {
	return a.b.Len() == 0
}
