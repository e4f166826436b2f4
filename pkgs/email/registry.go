package email

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Registry maps opaque session ids to open sessions. Create one per process
// and pass it to whatever issues or consumes session ids.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// Register stores s and returns its new id.
func (r *Registry) Register(s Session) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	return id
}

// Get returns the session registered under id.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Release removes id from the registry and closes its session.
// Releasing an unknown id is a no-op.
func (r *Registry) Release(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close()
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes and removes every session.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]Session)
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
