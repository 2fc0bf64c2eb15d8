// Package input turns raw button edges into semantic triggers. The physical
// pin wiring lives behind the edge channel; this package only debounces and
// classifies press durations.
package input

import (
	"context"
	"log/slog"
	"time"
)

// Edge is one raw transition of the button line.
type Edge struct {
	Pressed bool
	At      time.Time
}

// Config tunes the debouncer.
type Config struct {
	// Debounce ignores edges arriving within this interval of the previous
	// accepted edge.
	Debounce time.Duration

	// LongPress is the minimum hold for a long press.
	LongPress time.Duration

	// OnShort and OnLong deliver classified presses. Called from the input
	// loop; must not block.
	OnShort func(at time.Time)
	OnLong  func(at time.Time)
}

// Debouncer consumes raw edges and emits short/long press triggers. A press
// is classified on release by its hold duration, except that a hold reaching
// the long-press threshold fires immediately without waiting for release.
type Debouncer struct {
	cfg   Config
	edges chan Edge

	pressed    bool
	pressedAt  time.Time
	lastEdgeAt time.Time
	longFired  bool
}

// NewDebouncer creates a Debouncer.
func NewDebouncer(cfg Config) *Debouncer {
	return &Debouncer{
		cfg:   cfg,
		edges: make(chan Edge, 16),
	}
}

// Offer delivers a raw edge without blocking.
func (d *Debouncer) Offer(e Edge) {
	select {
	case d.edges <- e:
	default:
		slog.Debug("input: edge dropped, channel full")
	}
}

// Run consumes edges until ctx is done.
func (d *Debouncer) Run(ctx context.Context) error {
	// The hold check only needs to be live while a press is in progress;
	// a coarse tick keeps the idle loop cheap.
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-d.edges:
			d.handleEdge(e)
		case now := <-ticker.C:
			d.checkHold(now)
		}
	}
}

func (d *Debouncer) handleEdge(e Edge) {
	if !d.lastEdgeAt.IsZero() && e.At.Sub(d.lastEdgeAt) < d.cfg.Debounce {
		return
	}
	d.lastEdgeAt = e.At

	if e.Pressed == d.pressed {
		return
	}
	d.pressed = e.Pressed

	if e.Pressed {
		d.pressedAt = e.At
		d.longFired = false
		return
	}

	// Release. A long press already fired on hold; anything else is short.
	if d.longFired {
		return
	}
	if d.cfg.OnShort != nil {
		d.cfg.OnShort(e.At)
	}
}

func (d *Debouncer) checkHold(now time.Time) {
	if !d.pressed || d.longFired {
		return
	}
	if now.Sub(d.pressedAt) >= d.cfg.LongPress {
		d.longFired = true
		if d.cfg.OnLong != nil {
			d.cfg.OnLong(now)
		}
	}
}
