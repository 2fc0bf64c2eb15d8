// Package mock provides a scriptable [display.Renderer] for tests.
package mock

import (
	"sync"

	"github.com/eyeb33/jellyberry-sub000/internal/display"
)

// Renderer records every snapshot it is asked to draw.
type Renderer struct {
	mu     sync.Mutex
	frames []display.Snapshot
	closed bool

	// RenderErr, when set, is returned by every Render call.
	RenderErr error
}

var _ display.Renderer = (*Renderer)(nil)

func (r *Renderer) Render(s display.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, s)
	return r.RenderErr
}

func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Frames returns a copy of all rendered snapshots.
func (r *Renderer) Frames() []display.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]display.Snapshot, len(r.frames))
	copy(out, r.frames)
	return out
}

// Last returns the most recent snapshot, if any.
func (r *Renderer) Last() (display.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return display.Snapshot{}, false
	}
	return r.frames[len(r.frames)-1], true
}

// Closed reports whether Close was called.
func (r *Renderer) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
