package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aivocate/interview-gateway/internal/observability"
)

// entry tracks one created session through its lifecycle. A session
// whose connection drops keeps its entry alive for the grace window so
// the client can reconnect and resume instead of losing the interview.
type entry struct {
	id         string
	session    *Session
	graceTimer *time.Timer
	createdAt  time.Time
}

// Registry owns all live sessions.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	grace   time.Duration
	logger  zerolog.Logger
}

// NewRegistry creates a registry with the given reconnect grace window.
func NewRegistry(grace time.Duration) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		grace:   grace,
		logger:  observability.GetLogger().With().Str("component", "registry").Logger(),
	}
}

// Create reserves a new session ID for a client about to connect.
func (r *Registry) Create() string {
	id := uuid.New().String()

	r.mu.Lock()
	r.entries[id] = &entry{id: id, createdAt: time.Now()}
	r.mu.Unlock()

	r.logger.Info().Str("session_id", id).Msg("session created")
	return id
}

// Attach binds an accepted connection to a created session. A
// reconnect within the grace window cancels the pending teardown and
// replaces the dead session.
func (r *Registry) Attach(id string, sess *Session) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown session: %s", id)
	}

	if e.graceTimer != nil {
		e.graceTimer.Stop()
		e.graceTimer = nil
		r.logger.Info().Str("session_id", id).Msg("client reconnected within grace window")
	}
	old := e.session
	e.session = sess
	r.mu.Unlock()

	// Closed outside the lock: Close fires the session's detach hook,
	// which takes the lock and must see the replacement already bound.
	if old != nil {
		old.Close()
	}
	return nil
}

// Detach is called when a session's connection closes. The entry
// survives for the grace window, then is destroyed. The session
// pointer guards against a stale hook detaching a replacement that
// attached in the meantime.
func (r *Registry) Detach(id string, sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}
	if e.session != sess {
		return
	}

	e.session = nil
	if e.graceTimer != nil {
		e.graceTimer.Stop()
	}
	e.graceTimer = time.AfterFunc(r.grace, func() {
		r.Destroy(id)
	})
	r.logger.Info().
		Str("session_id", id).
		Dur("grace", r.grace).
		Msg("connection lost, grace window started")
}

// Destroy removes a session immediately.
func (r *Registry) Destroy(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	if e.graceTimer != nil {
		e.graceTimer.Stop()
	}
	if e.session != nil {
		e.session.Close()
	}
	r.logger.Info().Str("session_id", id).Msg("session destroyed")
}

// Exists reports whether a session ID is known.
func (r *Registry) Exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Count returns the number of known sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CloseAll tears down every session, for shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Destroy(id)
	}
}
