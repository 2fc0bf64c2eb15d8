// Package state holds the process-wide session flags, counters, and the
// ambient stream identity shared between the runtime loops.
//
// Each boolean flag follows a single-writer discipline: exactly one loop
// writes it (documented per accessor) and any loop may read it. Flags are
// atomics, so cross-loop reads are safe without additional locking; the
// ambient stream identity is a compound value and sits under its own mutex.
package state

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Store is the shared state of the device core. The zero value is not ready
// for use; create one with [New].
type Store struct {
	connected           atomic.Bool // written by the session loop
	recording           atomic.Bool // written by the arbiter
	playing             atomic.Bool // written by the arbiter
	responseInterrupted atomic.Bool // written by the arbiter
	turnComplete        atomic.Bool // written by the arbiter
	windowOpen          atomic.Bool // written by the arbiter
	alarmActive         atomic.Bool // written by the arbiter
	windowOpenedAt      atomic.Int64

	volume    atomic.Uint64 // float64 bits
	maxVolume float64

	ambientMu     sync.Mutex
	ambientActive bool
	ambientName   string
	ambientSeq    uint16

	// Connection health. Advisory telemetry: never gates correctness, only
	// triggers reconnection and logging.
	sendFailures    atomic.Int64
	disconnects     atomic.Int64
	admissionDrops  atomic.Int64
	staleDrops      atomic.Int64
	lastSendSuccess atomic.Int64
}

// New creates a Store with the given startup volume and volume cap.
func New(volume, maxVolume float64) *Store {
	s := &Store{maxVolume: maxVolume}
	s.SetVolume(volume)
	return s
}

// ── Flags ─────────────────────────────────────────────────────────────────────

// Connected reports whether the session socket is up. Written by the session loop.
func (s *Store) Connected() bool     { return s.connected.Load() }
func (s *Store) SetConnected(v bool) { s.connected.Store(v) }

// Recording reports whether the capture path owns the audio hardware.
// Written by the arbiter.
func (s *Store) Recording() bool     { return s.recording.Load() }
func (s *Store) SetRecording(v bool) { s.recording.Store(v) }

// Playing reports whether the playback path owns the audio hardware.
// Written by the arbiter.
func (s *Store) Playing() bool     { return s.playing.Load() }
func (s *Store) SetPlaying(v bool) { s.playing.Store(v) }

// ResponseInterrupted reports whether the current foreground response was
// interrupted by the user. While set, the session loop drops foreground audio
// so a just-interrupted response's trailing buffered frames do not leak
// through. Written by the arbiter.
func (s *Store) ResponseInterrupted() bool     { return s.responseInterrupted.Load() }
func (s *Store) SetResponseInterrupted(v bool) { s.responseInterrupted.Store(v) }

// TurnComplete reports whether the peer has marked the current turn complete.
// Written by the arbiter.
func (s *Store) TurnComplete() bool     { return s.turnComplete.Load() }
func (s *Store) SetTurnComplete(v bool) { s.turnComplete.Store(v) }

// AlarmActive reports whether an alarm currently preempts the arbiter.
// Written by the arbiter.
func (s *Store) AlarmActive() bool     { return s.alarmActive.Load() }
func (s *Store) SetAlarmActive(v bool) { s.alarmActive.Store(v) }

// WindowOpen reports whether a conversation window is open, and when it was
// opened. Written by the arbiter.
func (s *Store) WindowOpen() bool { return s.windowOpen.Load() }

// OpenWindow marks the conversation window open as of now.
func (s *Store) OpenWindow(now time.Time) {
	s.windowOpenedAt.Store(now.UnixNano())
	s.windowOpen.Store(true)
}

// CloseWindow marks the conversation window closed.
func (s *Store) CloseWindow() { s.windowOpen.Store(false) }

// WindowOpenedAt returns when the current window was opened. Only meaningful
// while WindowOpen is true.
func (s *Store) WindowOpenedAt() time.Time {
	return time.Unix(0, s.windowOpenedAt.Load())
}

// ── Volume ────────────────────────────────────────────────────────────────────

// Volume returns the current playback volume multiplier.
func (s *Store) Volume() float64 {
	return math.Float64frombits(s.volume.Load())
}

// MaxVolume returns the configured volume cap.
func (s *Store) MaxVolume() float64 { return s.maxVolume }

// SetVolume stores v clamped to [0, MaxVolume].
func (s *Store) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > s.maxVolume {
		v = s.maxVolume
	}
	s.volume.Store(math.Float64bits(v))
}

// ── Ambient stream identity ───────────────────────────────────────────────────

// StartAmbient records a new active ambient stream and returns its sequence
// number. The sequence increases monotonically so frames from a superseded
// stream can be fenced off.
func (s *Store) StartAmbient(name string) uint16 {
	s.ambientMu.Lock()
	defer s.ambientMu.Unlock()
	s.ambientSeq++
	s.ambientName = name
	s.ambientActive = true
	return s.ambientSeq
}

// StopAmbient deactivates the ambient stream but keeps its identity, so a
// reconnect can resume the same stream at its last known sequence.
func (s *Store) StopAmbient() {
	s.ambientMu.Lock()
	defer s.ambientMu.Unlock()
	s.ambientActive = false
}

// Ambient returns the current stream identity and whether it is active.
func (s *Store) Ambient() (name string, seq uint16, active bool) {
	s.ambientMu.Lock()
	defer s.ambientMu.Unlock()
	return s.ambientName, s.ambientSeq, s.ambientActive
}

// MatchesAmbient reports whether seq identifies the currently active ambient
// stream. Stale sequences — anything else — must be discarded by the caller.
func (s *Store) MatchesAmbient(seq uint16) bool {
	s.ambientMu.Lock()
	defer s.ambientMu.Unlock()
	return s.ambientActive && seq == s.ambientSeq
}

// ── Connection health ─────────────────────────────────────────────────────────

func (s *Store) CountSendFailure()   { s.sendFailures.Add(1) }
func (s *Store) CountDisconnect()    { s.disconnects.Add(1) }
func (s *Store) CountAdmissionDrop() { s.admissionDrops.Add(1) }
func (s *Store) CountStaleDrop()     { s.staleDrops.Add(1) }

// MarkSendSuccess records the wall-clock instant of a successful send.
func (s *Store) MarkSendSuccess(now time.Time) {
	s.lastSendSuccess.Store(now.UnixNano())
}

// Health returns a snapshot of the advisory connection-health counters.
func (s *Store) Health() HealthSnapshot {
	var last time.Time
	if ns := s.lastSendSuccess.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return HealthSnapshot{
		SendFailures:    s.sendFailures.Load(),
		Disconnects:     s.disconnects.Load(),
		AdmissionDrops:  s.admissionDrops.Load(),
		StaleDrops:      s.staleDrops.Load(),
		LastSendSuccess: last,
	}
}

// HealthSnapshot is a point-in-time copy of the connection-health counters.
type HealthSnapshot struct {
	SendFailures    int64
	Disconnects     int64
	AdmissionDrops  int64
	StaleDrops      int64
	LastSendSuccess time.Time
}
