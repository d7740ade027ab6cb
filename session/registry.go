package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Registry tracks live sessions so they could be closed on shutdown.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	wg       sync.WaitGroup
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Add registers s. It reports false if a session with the same id is
// already registered. Every added session is waited for by Wait until it is
// removed.
func (r *Registry) Add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID()]; ok {
		return false
	}
	r.sessions[s.ID()] = s
	r.wg.Add(1)
	return true
}

// Remove unregisters s. Removing a session that is not registered is a
// no-op.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID()]; !ok {
		return
	}
	delete(r.sessions, s.ID())
	r.wg.Done()
}

// Len returns number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Start registers s and runs it in a separate goroutine. The session is
// registered before Start returns, so a following CloseAll or Wait always
// observes it. When the session finishes it is removed and onExit, if not
// nil, is called with the error Run returned.
func (r *Registry) Start(ctx context.Context, s *Session, onExit func(error)) error {
	if !r.Add(s) {
		return ErrNotHandshaking
	}
	go func() {
		defer r.Remove(s)
		err := s.Run(ctx)
		if onExit != nil {
			onExit(err)
		}
	}()
	return nil
}

// CloseAll closes every registered session.
func (r *Registry) CloseAll() {
	for _, s := range r.snapshot() {
		s.Close()
	}
}

// Wait blocks until all registered sessions are removed or ctx is
// done.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	ss := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		ss = append(ss, s)
	}
	return ss
}
