package bridge

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("bridge: session not found")
	// ErrBadToken is returned when an attach token does not match. The token
	// is minted with the session and handed only to the page embedding the
	// app, so a mismatch means the caller is not that page.
	ErrBadToken = errors.New("bridge: attach token mismatch")
	// ErrAlreadyAttached is returned on a second attach attempt.
	ErrAlreadyAttached = errors.New("bridge: session already attached")
)

type entry struct {
	session  *Session
	token    string
	attached bool
}

// Registry tracks live sessions and guards channel attachment. Each session
// gets a one-time token at creation; only the holder may attach, and only
// once. This is the server-side analog of same-origin checks on a message
// channel.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*entry{}}
}

// Create registers a new session for the given options, assigning the id if
// unset, and returns the session with its attach token.
func (r *Registry) Create(opts Options) (*Session, string) {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	token := uuid.NewString()
	s := NewSession(opts)
	r.mu.Lock()
	r.sessions[s.ID()] = &entry{session: s, token: token}
	r.mu.Unlock()
	return s, token
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.session, nil
}

// Attach validates the token and binds conn to the session. Exactly one
// attach succeeds per session.
func (r *Registry) Attach(id, token string, conn Conn) (*Session, error) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if e.token != token {
		r.mu.Unlock()
		dropMessage("bad_token")
		return nil, ErrBadToken
	}
	if e.attached {
		r.mu.Unlock()
		return nil, ErrAlreadyAttached
	}
	e.attached = true
	r.mu.Unlock()
	if err := e.session.Attach(conn); err != nil {
		return nil, err
	}
	return e.session, nil
}

// Remove tears down the session and forgets it.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		e.session.Teardown()
	}
}

// Snapshot returns the live sessions, for state reporting.
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.session)
	}
	return out
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
