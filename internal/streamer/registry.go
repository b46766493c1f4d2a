package streamer

import "sync"

// Registry is the concurrency-safe mapping from session id to session. It is
// the single source of truth for whether a session still exists, shared
// between the HTTP handlers, the reaper, and transcoder exit callbacks.
//
// Get and Touch on a removed id are no-ops: teardown racing an in-flight
// request is expected, not exceptional.
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[SessionID]*Session)}
}

// Put registers a session under its id.
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Get returns the session for id, or (nil, false) if absent.
func (r *Registry) Get(id SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Touch advances the session's lastSeen if it is still registered.
func (r *Registry) Touch(id SessionID) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		s.Touch()
	}
}

// Remove deletes the session for id and returns it. The returned ok is false
// if the id was already absent; callers use this as the exactly-once guard
// for teardown, so only one of several racing triggers wins.
func (r *Registry) Remove(id SessionID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// ForEach calls visit for every registered session. It iterates over a
// snapshot, so visit may add or remove sessions without deadlocking; a
// session removed mid-sweep is still visited.
func (r *Registry) ForEach(visit func(*Session)) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		visit(s)
	}
}

// Len returns the number of registered sessions. Used for the active
// sessions gauge.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
