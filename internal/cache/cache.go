package cache

import (
	"log/slog"
	"sync"
	"time"

	"SnippetVault/internal/mentor"

	gocache "github.com/patrickmn/go-cache"
)

// Factory builds the controller of a snippet on first use
type Factory func(snippetID string) *mentor.Controller

// Sessions keeps one mentor controller per snippet.
// Entries expire after ttl without a lookup; every Get slides the deadline.
type Sessions struct {
	mu      sync.Mutex
	cache   *gocache.Cache
	ttl     time.Duration
	factory Factory
	logger  *slog.Logger
}

// NewSessions creates a registry. A ttl <= 0 keeps controllers until removed.
func NewSessions(ttl time.Duration, factory Factory, logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	expiration, cleanup := ttl, ttl/2
	if ttl <= 0 {
		expiration, cleanup = gocache.NoExpiration, 0
	}

	c := gocache.New(expiration, cleanup)
	c.OnEvicted(func(snippetID string, _ interface{}) {
		logger.Debug("mentor session evicted", "snippet_id", snippetID)
	})

	return &Sessions{
		cache:   c,
		ttl:     expiration,
		factory: factory,
		logger:  logger,
	}
}

// Get returns the snippet's controller, creating it if needed
func (s *Sessions) Get(snippetID string) *mentor.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()

	if x, found := s.cache.Get(snippetID); found {
		ctrl := x.(*mentor.Controller)
		s.cache.Set(snippetID, ctrl, s.ttl)
		return ctrl
	}

	ctrl := s.factory(snippetID)
	s.cache.Set(snippetID, ctrl, s.ttl)
	s.logger.Debug("mentor session created", "snippet_id", snippetID)
	return ctrl
}

// Peek returns the snippet's controller without creating it or refreshing its TTL
func (s *Sessions) Peek(snippetID string) (*mentor.Controller, bool) {
	x, found := s.cache.Get(snippetID)
	if !found {
		return nil, false
	}
	return x.(*mentor.Controller), true
}

// Remove drops the snippet's controller
func (s *Sessions) Remove(snippetID string) {
	s.cache.Delete(snippetID)
}

// Len returns the number of live controllers, including expired ones not yet cleaned up
func (s *Sessions) Len() int {
	return s.cache.ItemCount()
}
