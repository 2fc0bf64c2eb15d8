package arbiter

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/eyeb33/jellyberry-sub000/internal/observe"
	"github.com/eyeb33/jellyberry-sub000/internal/state"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

type fakePlayback struct {
	depth int
	last  time.Time
}

func (f *fakePlayback) Depth() int             { return f.depth }
func (f *fakePlayback) LastFrameAt() time.Time { return f.last }

type fakeFlusher struct{ flushes int }

func (f *fakeFlusher) Interrupt() { f.flushes++ }

type fakeSession struct {
	alarmRequests int
	alarmStops    int
	ambientStops  int
}

func (f *fakeSession) RequestAlarm(context.Context) error { f.alarmRequests++; return nil }
func (f *fakeSession) StopAlarm(context.Context) error    { f.alarmStops++; return nil }
func (f *fakeSession) StopAmbient(context.Context) error  { f.ambientStops++; return nil }

// ── Fixture ───────────────────────────────────────────────────────────────────

var testCfg = Config{
	MaxRecording:         10 * time.Second,
	SilenceTimeout:       2 * time.Second,
	WindowSilenceTimeout: 4 * time.Second,
	ThinkingDelay:        time.Second,
	ProcessingTimeout:    15 * time.Second,
	WindowDuration:       6 * time.Second,
	PlaybackIdle:         1500 * time.Millisecond,
	DrainThreshold:       2,
	InterruptRecency:     2 * time.Second,
}

type fixture struct {
	arb     *Arbiter
	store   *state.Store
	pb      *fakePlayback
	flusher *fakeFlusher
	sess    *fakeSession
	now     time.Time
	modes   []Mode
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{
		store:   state.New(1.0, 2.0),
		pb:      &fakePlayback{},
		flusher: &fakeFlusher{},
		sess:    &fakeSession{},
		now:     time.Unix(1000, 0),
	}
	cfg := testCfg
	cfg.OnMode = func(m Mode) { f.modes = append(f.modes, m) }
	f.arb = New(cfg, f.store, f.pb, f.flusher, f.sess, metrics)
	f.arb.clock = func() time.Time { return f.now }
	return f
}

func (f *fixture) event(k EventKind) {
	f.arb.handleEvent(context.Background(), Event{Kind: k, At: f.now})
}

// advance moves the clock forward and runs one deadline check.
func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
	f.arb.handleTick(f.now)
}

// startPlaying walks the fixture Idle → Recording → Processing → Playing.
func (f *fixture) startPlaying(t *testing.T) {
	t.Helper()
	f.event(EventPressShort)
	f.event(EventPressShort) // end recording
	f.pb.last = f.now
	f.pb.depth = 5
	f.event(EventForegroundAudio)
	if f.arb.Mode() != Playing {
		t.Fatalf("mode = %v, want PLAYING", f.arb.Mode())
	}
}

// ── Recording lifecycle ───────────────────────────────────────────────────────

func TestShortPress_StartsAndStopsRecording(t *testing.T) {
	f := newFixture(t)

	f.event(EventPressShort)
	if f.arb.Mode() != Recording {
		t.Fatalf("mode = %v, want RECORDING", f.arb.Mode())
	}
	if !f.store.Recording() {
		t.Error("recording flag not set")
	}
	if f.store.TurnComplete() {
		t.Error("turn-complete flag not cleared at turn start")
	}

	f.event(EventPressShort)
	if f.arb.Mode() != Processing {
		t.Fatalf("mode = %v, want PROCESSING", f.arb.Mode())
	}
	if f.store.Recording() {
		t.Error("recording flag still set after stop")
	}
}

func TestRecording_SilenceTimeout(t *testing.T) {
	f := newFixture(t)
	f.event(EventPressShort)

	f.advance(testCfg.SilenceTimeout - time.Millisecond)
	if f.arb.Mode() != Recording {
		t.Fatalf("mode = %v before the timeout, want RECORDING", f.arb.Mode())
	}
	f.advance(time.Millisecond)
	if f.arb.Mode() != Processing {
		t.Errorf("mode = %v after silence timeout, want PROCESSING", f.arb.Mode())
	}
}

func TestRecording_VoiceExtendsSilenceTimeout(t *testing.T) {
	f := newFixture(t)
	f.event(EventPressShort)

	f.advance(testCfg.SilenceTimeout - 100*time.Millisecond)
	f.event(EventVoice)
	f.advance(testCfg.SilenceTimeout - 100*time.Millisecond)
	if f.arb.Mode() != Recording {
		t.Errorf("mode = %v, want RECORDING (voice reset the silence clock)", f.arb.Mode())
	}
}

func TestRecording_HardCap(t *testing.T) {
	f := newFixture(t)
	f.event(EventPressShort)

	// Keep talking right up to the cap; the cap still ends the recording.
	step := testCfg.SilenceTimeout / 2
	for f.now.Before(time.Unix(1000, 0).Add(testCfg.MaxRecording)) {
		f.event(EventVoice)
		f.advance(step)
	}
	if f.arb.Mode() != Processing {
		t.Errorf("mode = %v, want PROCESSING once the cap is reached", f.arb.Mode())
	}
}

func TestRecording_ForegroundArrivalEndsIt(t *testing.T) {
	f := newFixture(t)
	f.event(EventPressShort)
	f.event(EventForegroundAudio)

	if f.arb.Mode() != Playing {
		t.Fatalf("mode = %v, want PLAYING", f.arb.Mode())
	}
	if f.store.Recording() {
		t.Error("recording flag still set; capture and playback are mutually exclusive")
	}
	if !f.store.Playing() {
		t.Error("playing flag not set")
	}
}

// ── Processing ────────────────────────────────────────────────────────────────

func TestProcessing_ThinkingIndicatorAndAbandonment(t *testing.T) {
	f := newFixture(t)
	var thinking []bool
	f.arb.cfg.OnThinking = func(v bool) { thinking = append(thinking, v) }

	f.event(EventPressShort)
	f.event(EventPressShort)

	f.advance(testCfg.ThinkingDelay)
	if len(thinking) != 1 || !thinking[0] {
		t.Errorf("thinking callbacks = %v, want [true] after the delay", thinking)
	}

	f.advance(testCfg.ProcessingTimeout)
	if f.arb.Mode() != Idle {
		t.Errorf("mode = %v, want IDLE after abandoning the turn", f.arb.Mode())
	}
}

func TestProcessing_ThinkingIndicatorClearedOnPlayback(t *testing.T) {
	f := newFixture(t)
	var thinking []bool
	f.arb.cfg.OnThinking = func(v bool) { thinking = append(thinking, v) }

	f.event(EventPressShort)
	f.event(EventPressShort)
	f.advance(testCfg.ThinkingDelay)
	f.event(EventForegroundAudio)

	if len(thinking) != 2 || thinking[1] {
		t.Errorf("thinking callbacks = %v, want [true false]", thinking)
	}
}

// ── Playback completion ───────────────────────────────────────────────────────

func TestPlaying_DualConditionCompletion(t *testing.T) {
	f := newFixture(t)
	f.startPlaying(t)

	// Deep queue: not finished no matter how long the wire is idle.
	f.pb.depth = 5
	f.advance(2 * testCfg.PlaybackIdle)
	if f.arb.Mode() != Playing {
		t.Fatalf("mode = %v with a deep queue, want PLAYING", f.arb.Mode())
	}

	// Queue drained but a frame arrived recently: delivery jitter, keep going.
	f.pb.depth = 0
	f.pb.last = f.now
	f.advance(testCfg.PlaybackIdle / 2)
	if f.arb.Mode() != Playing {
		t.Fatalf("mode = %v during a jitter pause, want PLAYING", f.arb.Mode())
	}

	// Both conditions hold: done.
	f.advance(testCfg.PlaybackIdle)
	if f.arb.Mode() != Idle {
		t.Errorf("mode = %v, want IDLE (no turn completion seen)", f.arb.Mode())
	}
	if f.store.Playing() {
		t.Error("playing flag still set")
	}
}

func TestPlaying_CompletionFlushesResidualTail(t *testing.T) {
	f := newFixture(t)
	f.startPlaying(t)

	// One frame below the drain threshold remains when the idle condition
	// lands; completion must discard it rather than leave it to play later.
	f.pb.depth = testCfg.DrainThreshold - 1
	f.advance(2 * testCfg.PlaybackIdle)

	if f.arb.Mode() != Idle {
		t.Fatalf("mode = %v, want IDLE", f.arb.Mode())
	}
	if f.flusher.flushes != 1 {
		t.Errorf("flushes = %d, want 1 (residual queue tail discarded)", f.flusher.flushes)
	}
}

func TestPlaying_TurnCompleteOpensWindow(t *testing.T) {
	f := newFixture(t)
	f.startPlaying(t)
	f.event(EventTurnComplete)

	f.pb.depth = 0
	f.advance(2 * testCfg.PlaybackIdle)
	if f.arb.Mode() != ConversationWindow {
		t.Fatalf("mode = %v, want CONVERSATION_WINDOW", f.arb.Mode())
	}
	if !f.store.WindowOpen() {
		t.Error("window flag not set")
	}
	if f.store.TurnComplete() {
		t.Error("turn-complete flag not consumed by the window transition")
	}
}

func TestWindow_ExpiresToIdle(t *testing.T) {
	f := newFixture(t)
	f.startPlaying(t)
	f.event(EventTurnComplete)
	f.pb.depth = 0
	f.advance(2 * testCfg.PlaybackIdle)

	f.advance(testCfg.WindowDuration)
	if f.arb.Mode() != Idle {
		t.Errorf("mode = %v, want IDLE after the window expires", f.arb.Mode())
	}
	if f.store.WindowOpen() {
		t.Error("window flag still set")
	}
}

func TestWindow_VoiceStartsRecordingWithLongerTimeout(t *testing.T) {
	f := newFixture(t)
	f.startPlaying(t)
	f.event(EventTurnComplete)
	f.pb.depth = 0
	f.advance(2 * testCfg.PlaybackIdle)

	f.event(EventVoice)
	if f.arb.Mode() != Recording {
		t.Fatalf("mode = %v, want RECORDING on voice in the window", f.arb.Mode())
	}
	if f.store.WindowOpen() {
		t.Error("window not closed when recording started")
	}

	// The window variant tolerates a pause longer than the normal timeout.
	f.advance(testCfg.SilenceTimeout + time.Millisecond)
	if f.arb.Mode() != Recording {
		t.Fatalf("mode = %v, want RECORDING (window silence timeout applies)", f.arb.Mode())
	}
	f.advance(testCfg.WindowSilenceTimeout)
	if f.arb.Mode() != Processing {
		t.Errorf("mode = %v, want PROCESSING after the window silence timeout", f.arb.Mode())
	}
}

// ── Interruption ──────────────────────────────────────────────────────────────

func TestInterrupt_WithinRecencyWindow(t *testing.T) {
	f := newFixture(t)
	f.startPlaying(t)

	f.advance(testCfg.InterruptRecency / 2)
	f.event(EventPressShort)

	if f.arb.Mode() != Recording {
		t.Fatalf("mode = %v, want RECORDING immediately after the interrupt", f.arb.Mode())
	}
	if !f.store.ResponseInterrupted() {
		t.Error("interrupted flag not set")
	}
	if f.flusher.flushes == 0 {
		t.Error("playback not flushed")
	}
	if f.store.Playing() {
		t.Error("playing flag still set")
	}
}

func TestInterrupt_IgnoredAfterRecencyWindow(t *testing.T) {
	f := newFixture(t)
	f.startPlaying(t)

	f.advance(testCfg.InterruptRecency + time.Millisecond)
	f.event(EventPressShort)

	if f.arb.Mode() != Playing {
		t.Errorf("mode = %v, want PLAYING (stream already quiet, press ignored)", f.arb.Mode())
	}
	if f.store.ResponseInterrupted() {
		t.Error("interrupted flag set by an ignored press")
	}
}

func TestInterrupt_StaleCompletionClearsFlagExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.startPlaying(t)
	f.advance(testCfg.InterruptRecency / 2)
	f.event(EventPressShort) // interrupt, now recording the new turn

	// The old turn's completion document: clears the flag, nothing else.
	f.event(EventTurnComplete)
	if f.store.ResponseInterrupted() {
		t.Error("interrupted flag not cleared by the stale completion")
	}
	if f.store.TurnComplete() {
		t.Error("stale completion leaked into the new turn's completion flag")
	}
	if f.arb.Mode() != Recording {
		t.Errorf("mode = %v, the stale completion must not disturb the recording", f.arb.Mode())
	}

	// The new turn's completion document counts normally.
	f.event(EventTurnComplete)
	if !f.store.TurnComplete() {
		t.Error("second completion not applied to the current turn")
	}
}

// ── Alarm ─────────────────────────────────────────────────────────────────────

func TestAlarm_PreemptsAndRestores(t *testing.T) {
	f := newFixture(t)
	f.event(EventPressShort) // recording

	f.event(EventAlarmFire)
	if f.arb.Mode() != Alarm {
		t.Fatalf("mode = %v, want ALARM", f.arb.Mode())
	}
	if !f.store.AlarmActive() {
		t.Error("alarm flag not set")
	}
	if f.store.Recording() {
		t.Error("recording flag not suspended during the alarm")
	}
	if f.sess.alarmRequests != 1 {
		t.Errorf("alarm audio requests = %d, want 1", f.sess.alarmRequests)
	}

	f.event(EventAlarmDismiss)
	if f.arb.Mode() != Recording {
		t.Fatalf("mode = %v, want RECORDING restored", f.arb.Mode())
	}
	if !f.store.Recording() {
		t.Error("recording flag not restored")
	}
	if f.store.AlarmActive() {
		t.Error("alarm flag still set")
	}
	if f.sess.alarmStops != 1 {
		t.Errorf("alarm stops = %d, want 1", f.sess.alarmStops)
	}
}

func TestAlarm_ShortPressDismisses(t *testing.T) {
	f := newFixture(t)
	f.event(EventAlarmFire)
	f.event(EventPressShort)

	if f.arb.Mode() != Idle {
		t.Errorf("mode = %v, want IDLE (alarm fired from idle)", f.arb.Mode())
	}
	if f.sess.alarmStops != 1 {
		t.Errorf("alarm stops = %d, want 1", f.sess.alarmStops)
	}
}

func TestAlarm_NoRecordingWhileActive(t *testing.T) {
	f := newFixture(t)
	f.event(EventAlarmFire)

	// A voice event in a stale window state must not start recording under an
	// alarm.
	f.arb.startRecording(context.Background(), f.now, false)
	if f.store.Recording() {
		t.Error("recording started while an alarm is active")
	}
}

func TestAlarm_DuringWindowReleasesPlaybackPath(t *testing.T) {
	f := newFixture(t)
	f.startPlaying(t)
	f.event(EventTurnComplete)
	f.pb.depth = 0
	f.advance(2 * testCfg.PlaybackIdle)
	if f.arb.Mode() != ConversationWindow {
		t.Fatalf("mode = %v, want CONVERSATION_WINDOW", f.arb.Mode())
	}

	f.event(EventAlarmFire)
	if f.arb.Mode() != Alarm {
		t.Fatalf("mode = %v, want ALARM", f.arb.Mode())
	}
	if f.store.WindowOpen() {
		t.Fatal("window still open under the alarm; the pipeline would hold the capture path and the alarm audio would never drain")
	}

	f.event(EventAlarmDismiss)
	if f.arb.Mode() != ConversationWindow {
		t.Fatalf("mode = %v, want CONVERSATION_WINDOW restored", f.arb.Mode())
	}
	if !f.store.WindowOpen() {
		t.Error("window not reopened after dismissal")
	}

	// Time spent ringing counts against the window: expiry is still measured
	// from the original opening.
	f.advance(testCfg.WindowDuration)
	if f.arb.Mode() != Idle {
		t.Errorf("mode = %v, want IDLE after the restored window expires", f.arb.Mode())
	}
}

// ── Ambient and long press ────────────────────────────────────────────────────

func TestLongPress_StopsAmbient(t *testing.T) {
	f := newFixture(t)
	f.store.StartAmbient("rain")

	f.event(EventPressLong)
	if f.sess.ambientStops != 1 {
		t.Errorf("ambient stops = %d, want 1", f.sess.ambientStops)
	}
}

func TestLongPress_AbortsRecording(t *testing.T) {
	f := newFixture(t)
	f.event(EventPressShort)
	f.event(EventPressLong)

	if f.arb.Mode() != Idle {
		t.Errorf("mode = %v, want IDLE after aborting", f.arb.Mode())
	}
	if f.store.Recording() {
		t.Error("recording flag still set")
	}
}

func TestAmbientComplete_DeactivatesStream(t *testing.T) {
	f := newFixture(t)
	seq := f.store.StartAmbient("rain")

	f.event(EventAmbientComplete)
	if f.store.MatchesAmbient(seq) {
		t.Error("completed stream still matches; trailing frames would pass the fence")
	}
}

// ── Mode notifications ────────────────────────────────────────────────────────

func TestOnMode_ReportsTransitions(t *testing.T) {
	f := newFixture(t)
	f.startPlaying(t)

	want := []Mode{Recording, Processing, Playing}
	if len(f.modes) != len(want) {
		t.Fatalf("modes = %v, want %v", f.modes, want)
	}
	for i, m := range want {
		if f.modes[i] != m {
			t.Errorf("modes[%d] = %v, want %v", i, f.modes[i], m)
		}
	}
}
