package mentor

import (
	"slices"
	"sync"

	"SnippetVault/internal/session"
)

// Timeline is the ordered, observable log of a snippet's turns.
// Only the owning Controller mutates it; everyone else reads snapshots.
type Timeline struct {
	snippetID string

	// pub serializes mutate-and-publish so observers see snapshots in mutation order
	pub sync.Mutex

	mu         sync.RWMutex
	turns      []session.Turn
	inProgress bool
	loading    bool
	observers  map[int]func(session.Snapshot)
	nextID     int
}

// NewTimeline creates an empty timeline for a snippet
func NewTimeline(snippetID string) *Timeline {
	return &Timeline{
		snippetID: snippetID,
		observers: make(map[int]func(session.Snapshot)),
	}
}

// Snapshot returns a copy of the current state
func (t *Timeline) Snapshot() session.Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Timeline) snapshotLocked() session.Snapshot {
	turns := make([]session.Turn, len(t.turns))
	copy(turns, t.turns)
	return session.Snapshot{
		SnippetID:  t.snippetID,
		Turns:      turns,
		InProgress: t.inProgress,
		Loading:    t.loading,
	}
}

// Subscribe registers fn to receive a snapshot after every change.
// fn runs synchronously on the mutating goroutine and must not block.
func (t *Timeline) Subscribe(fn func(session.Snapshot)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.observers[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.observers, id)
		t.mu.Unlock()
	}
}

// mutate applies fn under the lock and publishes the result if fn reports a change
func (t *Timeline) mutate(fn func() bool) {
	t.pub.Lock()
	defer t.pub.Unlock()

	t.mu.Lock()
	if !fn() {
		t.mu.Unlock()
		return
	}
	snap := t.snapshotLocked()
	observers := make([]func(session.Snapshot), 0, len(t.observers))
	for _, obs := range t.observers {
		observers = append(observers, obs)
	}
	t.mu.Unlock()

	for _, obs := range observers {
		obs(snap)
	}
}

func (t *Timeline) indexLocked(id string) int {
	return slices.IndexFunc(t.turns, func(turn session.Turn) bool { return turn.ID == id })
}

func (t *Timeline) reset(turns []session.Turn) {
	t.mutate(func() bool {
		t.turns = slices.Clone(turns)
		return true
	})
}

func (t *Timeline) append(turn session.Turn) {
	t.mutate(func() bool {
		t.turns = append(t.turns, turn)
		return true
	})
}

func (t *Timeline) setContent(id, content string) {
	t.mutate(func() bool {
		i := t.indexLocked(id)
		if i < 0 {
			return false
		}
		t.turns[i].Content = content
		return true
	})
}

func (t *Timeline) setStatus(id string, status session.Status) {
	t.mutate(func() bool {
		i := t.indexLocked(id)
		if i < 0 || t.turns[i].Status == status {
			return false
		}
		t.turns[i].Status = status
		return true
	})
}

func (t *Timeline) remove(id string) {
	t.mutate(func() bool {
		i := t.indexLocked(id)
		if i < 0 {
			return false
		}
		t.turns = slices.Delete(t.turns, i, i+1)
		return true
	})
}

func (t *Timeline) setInProgress(v bool) {
	t.mutate(func() bool {
		changed := t.inProgress != v
		t.inProgress = v
		return changed
	})
}

func (t *Timeline) setLoading(v bool) {
	t.mutate(func() bool {
		changed := t.loading != v
		t.loading = v
		return changed
	})
}
