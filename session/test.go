package session

import (
	"context"
	"sync"
)

// RecordingPoster keeps every posted event in memory. Set Err to make Post fail.
type RecordingPoster struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

var _ Poster = (*RecordingPoster)(nil)

func (p *RecordingPoster) Post(_ context.Context, _ string, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (p *RecordingPoster) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Invokes returns the recorded invoke events of the given kind.
func (p *RecordingPoster) Invokes(kind InvokeKind) []Event {
	var out []Event
	for _, e := range p.Events() {
		if e.Type == EventInvoke && e.Invoke == kind {
			out = append(out, e)
		}
	}
	return out
}

// SetErr changes the error returned by Post.
func (p *RecordingPoster) SetErr(err error) {
	p.mu.Lock()
	p.Err = err
	p.mu.Unlock()
}

// NewRecordingPoster returns an empty RecordingPoster.
func NewRecordingPoster() *RecordingPoster {
	return &RecordingPoster{}
}
