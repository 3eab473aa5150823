package session

import "sync"

// Visibility is the read side of the registry.
type Visibility interface {
	// Visible returns the currently visible session, if any.
	Visible() (Session, bool)
}

// Registry tracks the single visible Session. The zero value is ready to use.
type Registry struct {
	mu      sync.RWMutex
	visible Session
}

var _ Visibility = (*Registry)(nil)

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Visible() (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.visible, r.visible != nil
}

// SetVisible makes s the visible session, replacing any previous one.
func (r *Registry) SetVisible(s Session) {
	r.mu.Lock()
	r.visible = s
	r.mu.Unlock()
}

// ClearVisible hides s. It is a no-op when s is not the visible session.
func (r *Registry) ClearVisible(s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.visible == nil || s == nil || r.visible.ID() != s.ID() {
		return false
	}
	r.visible = nil
	return true
}
