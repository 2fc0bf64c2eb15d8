// Package feature tracks background activities announced by the backend:
// timers, alarms, pomodoro sessions, and informational data like tide and
// moon records. Payloads stay opaque — the registry stores them for the
// display and answers one question for the arbiter: is anything running in
// the background, and did an alarm just fire.
package feature

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/eyeb33/jellyberry-sub000/internal/protocol"
)

// Record is one stored feature document.
type Record struct {
	Type       protocol.ControlType
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Registry holds the latest record per feature type plus the derived
// background-activity flags.
type Registry struct {
	clock func() time.Time

	// OnAlarmFire is invoked when an alarm or expired timer should preempt
	// the device. Called from the control-routing goroutine; must not block.
	OnAlarmFire func()

	mu       sync.Mutex
	records  map[protocol.ControlType]Record
	timer    bool
	alarmSet bool
	pomodoro bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		clock:   time.Now,
		records: make(map[protocol.ControlType]Record),
	}
}

// Apply ingests one feature control document, updating the stored records and
// activity flags. Non-feature documents are ignored.
func (r *Registry) Apply(c protocol.Control) {
	if !c.IsFeature() {
		return
	}
	r.mu.Lock()
	r.records[c.Type] = Record{
		Type:       c.Type,
		Payload:    c.Payload,
		ReceivedAt: r.clock(),
	}

	fire := false
	switch c.Type {
	case protocol.TypeTimerSet:
		r.timer = true
	case protocol.TypeTimerCancelled:
		r.timer = false
	case protocol.TypeTimerExpired:
		r.timer = false
		fire = true
	case protocol.TypeSetAlarm:
		r.alarmSet = true
	case protocol.TypeCancelAlarm:
		r.alarmSet = false
	case protocol.TypePomodoroStart, protocol.TypePomodoroResume:
		r.pomodoro = true
	case protocol.TypePomodoroStop:
		r.pomodoro = false
	case protocol.TypePomodoroPause:
		// Paused still counts as an active background session.
	}
	r.mu.Unlock()

	slog.Debug("feature: document applied", "type", c.Type)
	if fire && r.OnAlarmFire != nil {
		r.OnAlarmFire()
	}
}

// Active reports whether any background activity is running.
func (r *Registry) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer || r.alarmSet || r.pomodoro
}

// Record returns the latest stored record for a feature type.
func (r *Registry) Record(t protocol.ControlType) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[t]
	return rec, ok
}

// Records returns a snapshot of all stored records.
func (r *Registry) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}
