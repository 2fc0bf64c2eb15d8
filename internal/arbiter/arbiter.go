// Package arbiter implements the turn-taking state machine: the authoritative
// decision-maker for what the device is doing right now.
//
// The arbiter is the single writer of the recording/playing/interrupted flags
// in the shared store. It consumes a channel of events (button presses, VAD
// reports, session documents, alarm firings) plus a periodic tick, and every
// timing decision recomputes from wall-clock deltas — a stalled tick degrades
// to a late transition, never to corrupted state. No transition is retried;
// each terminal condition deterministically selects exactly one next state.
package arbiter

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/eyeb33/jellyberry-sub000/internal/observe"
	"github.com/eyeb33/jellyberry-sub000/internal/state"
)

// Mode is the arbiter's current activity.
type Mode int

const (
	Idle Mode = iota
	Recording
	Processing
	Playing
	ConversationWindow
	Alarm
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case Idle:
		return "IDLE"
	case Recording:
		return "RECORDING"
	case Processing:
		return "PROCESSING"
	case Playing:
		return "PLAYING"
	case ConversationWindow:
		return "CONVERSATION_WINDOW"
	case Alarm:
		return "ALARM"
	default:
		return "UNKNOWN"
	}
}

// defaultTick paces deadline checks. Cancellation latency for cross-loop
// effects is bounded by one tick.
const defaultTick = 25 * time.Millisecond

// PlaybackStatus exposes the playback queue observations the completion
// policy needs. Implemented by the pipeline queue.
type PlaybackStatus interface {
	Depth() int
	LastFrameAt() time.Time
}

// Interrupter flushes all pending playback. Implemented by the pipeline.
type Interrupter interface {
	Interrupt()
}

// SessionControl is the subset of session actions the arbiter issues.
type SessionControl interface {
	RequestAlarm(ctx context.Context) error
	StopAlarm(ctx context.Context) error
	StopAmbient(ctx context.Context) error
}

// Config holds the arbiter's timing policies.
type Config struct {
	MaxRecording         time.Duration
	SilenceTimeout       time.Duration
	WindowSilenceTimeout time.Duration
	ThinkingDelay        time.Duration
	ProcessingTimeout    time.Duration
	WindowDuration       time.Duration
	PlaybackIdle         time.Duration
	DrainThreshold       int
	InterruptRecency     time.Duration

	// Tick overrides the deadline-check cadence. Default: 25ms.
	Tick time.Duration

	// OnMode is notified of every mode change. Must not block; the display
	// adapter forwards it as an intent.
	OnMode func(Mode)

	// OnThinking is notified when the thinking indicator should show or hide.
	OnThinking func(bool)
}

// alarmSnapshot captures everything needed to resume the preempted activity
// exactly where it left off.
type alarmSnapshot struct {
	mode               Mode
	enteredAt          time.Time
	recordingStartedAt time.Time
	lastVoiceAt        time.Time
	fromWindow         bool
	thinkingShown      bool
	recording          bool
	playing            bool
	windowOpen         bool
	windowOpenedAt     time.Time
}

// Arbiter runs the turn state machine. Create with [New]; feed events via
// [Arbiter.Offer]; drive with [Arbiter.Run].
type Arbiter struct {
	cfg      Config
	store    *state.Store
	playback PlaybackStatus
	flusher  Interrupter
	session  SessionControl
	metrics  *observe.Metrics
	clock    func() time.Time

	events chan Event

	mode               Mode
	enteredAt          time.Time
	recordingStartedAt time.Time
	lastVoiceAt        time.Time
	fromWindow         bool
	thinkingShown      bool

	// awaitingStaleComplete is set on interruption and cleared exactly once
	// by the interrupted turn's completion document.
	awaitingStaleComplete bool

	snapshot *alarmSnapshot

	turnSpan trace.Span
	turnAt   time.Time
}

// New creates an Arbiter in [Idle].
func New(cfg Config, store *state.Store, playback PlaybackStatus, flusher Interrupter,
	session SessionControl, metrics *observe.Metrics) *Arbiter {
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	return &Arbiter{
		cfg:      cfg,
		store:    store,
		playback: playback,
		flusher:  flusher,
		session:  session,
		metrics:  metrics,
		clock:    time.Now,
		events:   make(chan Event, 64),
	}
}

// Offer performs a non-blocking send of ev to the arbiter. A full channel
// drops the event, which timing-based transitions recover from on the next
// tick.
func (a *Arbiter) Offer(ev Event) {
	select {
	case a.events <- ev:
	default:
		slog.Debug("arbiter: event dropped, channel full", "kind", ev.Kind)
	}
}

// Mode returns the current mode. Only consistent from within the arbiter's
// own callbacks; other loops should rely on the store flags.
func (a *Arbiter) Mode() Mode { return a.mode }

// Run consumes events and ticks until ctx is done.
func (a *Arbiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-a.events:
			a.handleEvent(ctx, ev)
		case <-ticker.C:
			a.handleTick(a.clock())
		}
	}
}

// ── Event handling ────────────────────────────────────────────────────────────

func (a *Arbiter) handleEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventPressShort:
		a.handleShortPress(ctx, ev.At)
	case EventPressLong:
		a.handleLongPress(ctx)
	case EventVoice:
		a.lastVoiceAt = ev.At
		if a.mode == ConversationWindow {
			a.startRecording(ctx, ev.At, true)
		}
	case EventForegroundAudio:
		a.handleForegroundAudio(ev.At)
	case EventTurnComplete:
		a.handleTurnComplete()
	case EventAmbientComplete:
		a.store.StopAmbient()
		slog.Info("arbiter: ambient stream completed")
	case EventAlarmFire:
		a.enterAlarm(ctx)
	case EventAlarmDismiss:
		a.dismissAlarm(ctx)
	}
}

func (a *Arbiter) handleShortPress(ctx context.Context, at time.Time) {
	if at.IsZero() {
		at = a.clock()
	}
	switch a.mode {
	case Idle, ConversationWindow:
		a.startRecording(ctx, at, a.mode == ConversationWindow)
	case Recording:
		a.endRecording(at)
	case Playing:
		// A press counts as an interruption only while response audio is
		// still actively arriving.
		last := a.playback.LastFrameAt()
		if !last.IsZero() && at.Sub(last) <= a.cfg.InterruptRecency {
			a.interruptPlayback(ctx, at)
		} else {
			slog.Debug("arbiter: press ignored, response stream already quiet")
		}
	case Alarm:
		a.dismissAlarm(ctx)
	case Processing:
		// The turn is in flight; pressing cannot take it back.
	}
}

func (a *Arbiter) handleLongPress(ctx context.Context) {
	switch a.mode {
	case Alarm:
		a.dismissAlarm(ctx)
	case Recording:
		// Abort the utterance without waiting for a response.
		a.store.SetRecording(false)
		a.endTurn(a.clock(), "aborted")
		a.setMode(Idle, a.clock())
	default:
		if _, _, active := a.store.Ambient(); active {
			if err := a.session.StopAmbient(ctx); err != nil {
				slog.Warn("arbiter: stop ambient failed", "err", err)
			}
		}
	}
}

// handleForegroundAudio reacts to response audio starting to arrive.
// Arrival unconditionally ends recording: the transport does not support
// simultaneous bidirectional audio.
func (a *Arbiter) handleForegroundAudio(at time.Time) {
	if at.IsZero() {
		at = a.clock()
	}
	switch a.mode {
	case Recording:
		a.store.SetRecording(false)
		a.enterPlaying(at)
	case Processing:
		a.enterPlaying(at)
	case ConversationWindow:
		a.store.CloseWindow()
		a.enterPlaying(at)
	case Idle:
		a.enterPlaying(at)
	case Playing, Alarm:
		// Already consuming the stream.
	}
}

// handleTurnComplete applies the peer's completion document. After an
// interruption, the first completion to arrive belongs to the old turn: it
// clears the interrupted flag exactly once and must not disturb the new
// recording in progress.
func (a *Arbiter) handleTurnComplete() {
	if a.awaitingStaleComplete {
		a.awaitingStaleComplete = false
		a.store.SetResponseInterrupted(false)
		slog.Debug("arbiter: stale turn completion resolved interruption")
		return
	}
	a.store.SetTurnComplete(true)
}

// ── Tick handling ─────────────────────────────────────────────────────────────

func (a *Arbiter) handleTick(now time.Time) {
	switch a.mode {
	case Recording:
		a.tickRecording(now)
	case Processing:
		a.tickProcessing(now)
	case Playing:
		a.tickPlaying(now)
	case ConversationWindow:
		if now.Sub(a.store.WindowOpenedAt()) >= a.cfg.WindowDuration {
			a.store.CloseWindow()
			a.setMode(Idle, now)
		}
	}
}

func (a *Arbiter) tickRecording(now time.Time) {
	if now.Sub(a.recordingStartedAt) >= a.cfg.MaxRecording {
		slog.Info("arbiter: recording cap reached")
		a.endRecording(now)
		return
	}
	timeout := a.cfg.SilenceTimeout
	if a.fromWindow {
		timeout = a.cfg.WindowSilenceTimeout
	}
	if now.Sub(a.lastVoiceAt) >= timeout {
		a.endRecording(now)
	}
}

func (a *Arbiter) tickProcessing(now time.Time) {
	elapsed := now.Sub(a.enteredAt)
	if !a.thinkingShown && elapsed >= a.cfg.ThinkingDelay {
		a.thinkingShown = true
		if a.cfg.OnThinking != nil {
			a.cfg.OnThinking(true)
		}
	}
	if elapsed >= a.cfg.ProcessingTimeout {
		slog.Warn("arbiter: no response, abandoning turn")
		a.clearThinking()
		a.endTurn(now, "abandoned")
		a.setMode(Idle, now)
	}
}

// tickPlaying applies the dual completion condition: playback is finished
// only when no new frame has arrived for the idle threshold AND the queue has
// drained below the drain threshold. Either alone is not enough — delivery
// jitter pauses the stream without ending it, and a deep queue still holds
// audible audio.
func (a *Arbiter) tickPlaying(now time.Time) {
	if a.playback.Depth() >= a.cfg.DrainThreshold {
		return
	}
	last := a.playback.LastFrameAt()
	if last.Before(a.enteredAt) {
		// No frame admitted since playback started; measure idleness from
		// state entry so a slow first frame does not end the turn instantly.
		last = a.enteredAt
	}
	if now.Sub(last) < a.cfg.PlaybackIdle {
		return
	}
	a.finishPlaying(now)
}

// ── Transitions ───────────────────────────────────────────────────────────────

// startRecording begins a new turn, guarded by "not already recording, not
// playing a foreground response, not mid-alarm".
func (a *Arbiter) startRecording(ctx context.Context, now time.Time, fromWindow bool) {
	if a.store.Recording() || a.store.AlarmActive() || a.mode == Playing {
		return
	}
	a.store.CloseWindow()
	a.store.SetTurnComplete(false)
	a.store.SetRecording(true)
	a.recordingStartedAt = now
	a.lastVoiceAt = now
	a.fromWindow = fromWindow
	a.thinkingShown = false

	_, a.turnSpan = observe.StartSpan(ctx, "turn")
	a.turnAt = now

	a.setMode(Recording, now)
	slog.Info("arbiter: recording started", "from_window", fromWindow)
}

// endRecording closes the capture phase and waits for the response.
func (a *Arbiter) endRecording(now time.Time) {
	a.store.SetRecording(false)
	a.setMode(Processing, now)
	slog.Info("arbiter: recording ended, awaiting response")
}

func (a *Arbiter) enterPlaying(now time.Time) {
	a.store.SetPlaying(true)
	a.clearThinking()
	a.setMode(Playing, now)
}

func (a *Arbiter) clearThinking() {
	if !a.thinkingShown {
		return
	}
	a.thinkingShown = false
	if a.cfg.OnThinking != nil {
		a.cfg.OnThinking(false)
	}
}

// finishPlaying ends the response phase. A completed turn opens the
// conversation window; otherwise the device falls back to idle and whatever
// background activity is active.
func (a *Arbiter) finishPlaying(now time.Time) {
	a.store.SetPlaying(false)
	// Anything still queued is the finished response's sub-threshold tail;
	// flush it so it cannot play later.
	a.flusher.Interrupt()
	a.endTurn(now, "completed")

	if a.store.TurnComplete() {
		a.store.SetTurnComplete(false)
		a.store.OpenWindow(now)
		a.setMode(ConversationWindow, now)
		slog.Info("arbiter: conversation window open")
		return
	}
	a.setMode(Idle, now)
}

// interruptPlayback preempts the current response: the playback pipeline is
// flushed, the interrupted flag suppresses the old turn's trailing frames,
// and a new recording starts immediately.
func (a *Arbiter) interruptPlayback(ctx context.Context, now time.Time) {
	a.store.SetResponseInterrupted(true)
	a.awaitingStaleComplete = true
	a.store.SetPlaying(false)
	a.flusher.Interrupt()
	a.endTurn(now, "interrupted")
	a.setMode(Idle, now) // resolves within this handler; keeps the guard in startRecording honest
	a.startRecording(ctx, now, false)
	slog.Info("arbiter: response interrupted, recording")
}

// enterAlarm preempts the current activity, snapshotting it for restoration.
func (a *Arbiter) enterAlarm(ctx context.Context) {
	if a.mode == Alarm {
		return
	}
	now := a.clock()
	a.snapshot = &alarmSnapshot{
		mode:               a.mode,
		enteredAt:          a.enteredAt,
		recordingStartedAt: a.recordingStartedAt,
		lastVoiceAt:        a.lastVoiceAt,
		fromWindow:         a.fromWindow,
		thinkingShown:      a.thinkingShown,
		recording:          a.store.Recording(),
		playing:            a.store.Playing(),
		windowOpen:         a.store.WindowOpen(),
		windowOpenedAt:     a.store.WindowOpenedAt(),
	}

	// The alarm owns the audio hardware outright. An open conversation window
	// would keep the pipeline on the capture path and the alarm audio would
	// never drain.
	a.store.CloseWindow()
	a.store.SetRecording(false)
	a.store.SetPlaying(false)
	a.flusher.Interrupt()
	a.store.SetAlarmActive(true)

	if err := a.session.RequestAlarm(ctx); err != nil {
		slog.Warn("arbiter: alarm audio request failed", "err", err)
	}
	a.setMode(Alarm, now)
	slog.Info("arbiter: alarm", "preempted", a.snapshot.mode)
}

// dismissAlarm restores exactly the snapshotted activity, so an interrupted
// conversation resumes where it left off.
func (a *Arbiter) dismissAlarm(ctx context.Context) {
	if a.mode != Alarm {
		return
	}
	if err := a.session.StopAlarm(ctx); err != nil {
		slog.Warn("arbiter: alarm stop failed", "err", err)
	}
	a.flusher.Interrupt()
	a.store.SetAlarmActive(false)

	now := a.clock()
	snap := a.snapshot
	a.snapshot = nil
	if snap == nil {
		a.setMode(Idle, now)
		return
	}

	a.enteredAt = snap.enteredAt
	a.recordingStartedAt = snap.recordingStartedAt
	a.lastVoiceAt = snap.lastVoiceAt
	a.fromWindow = snap.fromWindow
	a.thinkingShown = snap.thinkingShown
	a.store.SetRecording(snap.recording)
	a.store.SetPlaying(snap.playing)
	if snap.windowOpen {
		// Restored with its original opening time: time spent ringing counts
		// against the window, and an expired one closes on the next tick.
		a.store.OpenWindow(snap.windowOpenedAt)
	}
	a.setMode(snap.mode, snap.enteredAt)
	slog.Info("arbiter: alarm dismissed", "restored", snap.mode)
}

// endTurn closes the turn span and records turn telemetry. Safe to call when
// no turn is open.
func (a *Arbiter) endTurn(now time.Time, outcome string) {
	if a.turnSpan == nil {
		return
	}
	a.turnSpan.End()
	a.turnSpan = nil
	a.metrics.Turns.Add(context.Background(), 1)
	a.metrics.TurnDuration.Record(context.Background(), now.Sub(a.turnAt).Seconds())
	slog.Debug("arbiter: turn ended", "outcome", outcome, "duration", now.Sub(a.turnAt))
}

func (a *Arbiter) setMode(m Mode, now time.Time) {
	if m == a.mode {
		return
	}
	a.mode = m
	a.enteredAt = now
	if a.cfg.OnMode != nil {
		a.cfg.OnMode(m)
	}
}
