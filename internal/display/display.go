// Package display runs the render loop. The loop is the sole owner of the
// render snapshot: every other component communicates through intents sent
// over a channel, so no lock is ever held across a render call.
package display

import (
	"context"
	"log/slog"
	"time"
)

// Face is the expression the renderer should show for the current activity.
type Face int

const (
	FaceNeutral Face = iota
	FaceListening
	FaceThinking
	FaceSpeaking
	FaceWindow
	FaceAlarm
)

// String returns the face name.
func (f Face) String() string {
	switch f {
	case FaceNeutral:
		return "neutral"
	case FaceListening:
		return "listening"
	case FaceThinking:
		return "thinking"
	case FaceSpeaking:
		return "speaking"
	case FaceWindow:
		return "window"
	case FaceAlarm:
		return "alarm"
	default:
		return "unknown"
	}
}

// Snapshot is the full state a renderer needs for one frame.
type Snapshot struct {
	Face      Face
	Level     float64 // audio level in [0,1]-ish, renderer scales
	Thinking  bool
	Connected bool
	Status    string // transient status line, cleared by the next face change
}

// Renderer draws one snapshot. Implementations sit behind this boundary —
// the core never touches pixels. Render is called from the display loop only.
type Renderer interface {
	Render(s Snapshot) error
	Close() error
}

// Intent mutates the snapshot. Applied in order of arrival by the loop.
type Intent func(*Snapshot)

// WithFace sets the face and clears any transient status.
func WithFace(f Face) Intent {
	return func(s *Snapshot) {
		s.Face = f
		s.Status = ""
	}
}

// WithLevel sets the audio level.
func WithLevel(level float64) Intent {
	return func(s *Snapshot) { s.Level = level }
}

// WithThinking toggles the thinking indicator.
func WithThinking(v bool) Intent {
	return func(s *Snapshot) { s.Thinking = v }
}

// WithConnected toggles the connectivity badge.
func WithConnected(v bool) Intent {
	return func(s *Snapshot) { s.Connected = v }
}

// WithStatus sets the transient status line.
func WithStatus(text string) Intent {
	return func(s *Snapshot) { s.Status = text }
}

// Task drives a Renderer from a stream of intents at a fixed refresh cadence.
type Task struct {
	renderer Renderer
	refresh  time.Duration
	intents  chan Intent

	snap  Snapshot
	dirty bool
}

// NewTask creates a display task refreshing at the given cadence.
func NewTask(r Renderer, refresh time.Duration) *Task {
	return &Task{
		renderer: r,
		refresh:  refresh,
		intents:  make(chan Intent, 64),
	}
}

// Send queues an intent without blocking. A full channel drops the intent;
// the display converges on the next one.
func (t *Task) Send(in Intent) {
	select {
	case t.intents <- in:
	default:
	}
}

// Run applies intents and renders until ctx is done. Renders happen only on
// the refresh tick and only when the snapshot changed, so a burst of level
// intents coalesces into one draw.
func (t *Task) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.refresh)
	defer ticker.Stop()
	defer t.renderer.Close()

	// Initial draw so the device shows something before the first intent.
	t.dirty = true

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-t.intents:
			in(&t.snap)
			t.dirty = true
		case <-ticker.C:
			if !t.dirty {
				continue
			}
			t.dirty = false
			if err := t.renderer.Render(t.snap); err != nil {
				// Rendering is cosmetic; a failed draw never stops the device.
				slog.Warn("display: render failed", "err", err)
			}
		}
	}
}
