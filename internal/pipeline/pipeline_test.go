package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eyeb33/jellyberry-sub000/internal/state"
	"github.com/eyeb33/jellyberry-sub000/pkg/audio"
	"github.com/eyeb33/jellyberry-sub000/pkg/audio/vad"
	hwmock "github.com/eyeb33/jellyberry-sub000/pkg/hw/mock"
)

// sender records every outbound frame.
type sender struct {
	mu     sync.Mutex
	frames [][]byte

	// Err, when set, is returned by every SendAudio call.
	Err error
}

func (s *sender) SendAudio(_ context.Context, pcm []byte) error {
	if s.Err != nil {
		return s.Err
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.mu.Lock()
	s.frames = append(s.frames, cp)
	s.mu.Unlock()
	return nil
}

func (s *sender) sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

type fixture struct {
	pipe  *Pipeline
	mic   *hwmock.Mic
	sink  *hwmock.Sink
	queue *Queue
	store *state.Store
	out   *sender
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		mic:   hwmock.NewMic(),
		sink:  hwmock.NewSink(),
		store: state.New(1.0, 2.0),
		out:   &sender{},
	}
	f.queue = NewQueue(30, 100*time.Millisecond, testMetrics(t))
	det := vad.New(vad.Config{VoiceThreshold: 500, WindowThreshold: 300})
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 100 * time.Millisecond
	}
	if cfg.MicGain == 0 {
		cfg.MicGain = 1.0
	}
	f.pipe = New(cfg, f.mic, f.sink, f.queue, det, f.store, testMetrics(t), f.out)
	return f
}

// voicedPCM builds a frame with mean amplitude 1000.
func voicedPCM() []byte {
	pcm := make([]byte, 8)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i] = byte(1000 & 0xFF)
		pcm[i+1] = byte(1000 >> 8)
	}
	return pcm
}

// ── Capture path ──────────────────────────────────────────────────────────────

func TestCaptureStep_ForwardsWhileRecording(t *testing.T) {
	t.Parallel()

	var results []vad.Result
	f := newFixture(t, Config{
		OnVAD: func(r vad.Result, _ time.Time) { results = append(results, r) },
	})
	f.store.SetRecording(true)
	f.mic.Push(voicedPCM())

	f.pipe.captureStep(context.Background())

	sent := f.out.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(sent))
	}
	if len(results) != 1 || !results[0].Voiced {
		t.Errorf("OnVAD results = %+v, want one voiced", results)
	}
}

func TestCaptureStep_SilentFramesStillForwarded(t *testing.T) {
	t.Parallel()

	// The backend does its own speech processing; VAD gates timing, not
	// transmission.
	f := newFixture(t, Config{})
	f.store.SetRecording(true)
	f.mic.PushSilence(1, 8)

	f.pipe.captureStep(context.Background())

	if got := len(f.out.sent()); got != 1 {
		t.Errorf("sent %d frames, want 1 (silence forwarded)", got)
	}
}

func TestCaptureStep_WindowListensWithoutSending(t *testing.T) {
	t.Parallel()

	var results []vad.Result
	f := newFixture(t, Config{
		OnVAD: func(r vad.Result, _ time.Time) { results = append(results, r) },
	})
	f.store.OpenWindow(time.Now())
	f.mic.Push(voicedPCM())

	f.pipe.captureStep(context.Background())

	if got := len(f.out.sent()); got != 0 {
		t.Errorf("sent %d frames while only listening, want 0", got)
	}
	if len(results) != 1 || !results[0].Voiced {
		t.Errorf("OnVAD results = %+v, want one voiced (window threshold)", results)
	}
}

func TestCaptureStep_AppliesGain(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MicGain: 2.0})
	f.store.SetRecording(true)
	pcm := []byte{100, 0, 100, 0}
	f.mic.Push(pcm)

	f.pipe.captureStep(context.Background())

	sent := f.out.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(sent))
	}
	if got := int16(sent[0][0]) | int16(sent[0][1])<<8; got != 200 {
		t.Errorf("first sample = %d, want 200 after 2x gain", got)
	}
}

func TestCaptureStep_SendFailureDoesNotStallCapture(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.out.Err = errors.New("socket gone")
	f.store.SetRecording(true)
	f.mic.Push(voicedPCM())
	f.mic.Push(voicedPCM())

	f.pipe.captureStep(context.Background())
	f.pipe.captureStep(context.Background())
	// Both frames consumed; no panic, no retry loop.
}

// ── Playback path ─────────────────────────────────────────────────────────────

func TestPlaybackStep_PrebufferGate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{PrebufferFrames: 2})
	ctx := context.Background()

	_ = f.queue.Enqueue(ctx, audio.Frame{PCM: voicedPCM(), At: time.Now()})
	f.pipe.playbackStep(ctx)
	if got := len(f.sink.Writes()); got != 0 {
		t.Fatalf("wrote %d frames below the prebuffer threshold, want 0", got)
	}

	_ = f.queue.Enqueue(ctx, audio.Frame{PCM: voicedPCM(), At: time.Now()})
	f.pipe.playbackStep(ctx)
	if got := len(f.sink.Writes()); got != 1 {
		t.Errorf("wrote %d frames once the prebuffer filled, want 1", got)
	}
}

func TestPlaybackStep_FlushesShortStream(t *testing.T) {
	t.Parallel()

	// A stream shorter than the prebuffer must still play once the inter-frame
	// gap makes clear no more frames are coming.
	f := newFixture(t, Config{PrebufferFrames: 8})
	ctx := context.Background()

	_ = f.queue.Enqueue(ctx, audio.Frame{PCM: voicedPCM(), At: time.Now().Add(-prebufferFlush - time.Millisecond)})
	f.pipe.playbackStep(ctx)
	if got := len(f.sink.Writes()); got != 1 {
		t.Errorf("wrote %d frames, want 1 (stale stream flushed)", got)
	}
}

func TestPlaybackStep_StereoAndVolume(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{PrebufferFrames: 1})
	f.store.SetVolume(2.0)
	ctx := context.Background()

	mono := []byte{100, 0} // one sample, value 100
	_ = f.queue.Enqueue(ctx, audio.Frame{PCM: mono, At: time.Now()})
	f.pipe.playbackStep(ctx)

	writes := f.sink.Writes()
	if len(writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(writes))
	}
	got := writes[0]
	if len(got) != 4 {
		t.Fatalf("stereo frame length = %d, want 4", len(got))
	}
	left := int16(got[0]) | int16(got[1])<<8
	right := int16(got[2]) | int16(got[3])<<8
	if left != 200 || right != 200 {
		t.Errorf("samples = (%d, %d), want (200, 200) after 2x volume", left, right)
	}
}

func TestPlaybackStep_SourceFrameNotMutated(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{PrebufferFrames: 1})
	f.store.SetVolume(2.0)
	ctx := context.Background()

	mono := []byte{100, 0}
	_ = f.queue.Enqueue(ctx, audio.Frame{PCM: mono, At: time.Now()})
	f.pipe.playbackStep(ctx)

	if mono[0] != 100 {
		t.Error("volume scaling mutated the queued frame")
	}
}

func TestPlaybackStep_SinkFailureSkipsFrame(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{PrebufferFrames: 1})
	f.sink.WriteErr = errors.New("device busy")
	ctx := context.Background()

	_ = f.queue.Enqueue(ctx, audio.Frame{PCM: voicedPCM(), At: time.Now()})
	f.pipe.playbackStep(ctx)

	if got := f.queue.Depth(); got != 0 {
		t.Errorf("Depth = %d, want 0 (failed frame skipped, not retried)", got)
	}
}

func TestInterrupt(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{PrebufferFrames: 1})
	ctx := context.Background()
	for range 3 {
		_ = f.queue.Enqueue(ctx, audio.Frame{PCM: voicedPCM(), At: time.Now()})
	}

	f.pipe.Interrupt()

	if got := f.queue.Depth(); got != 0 {
		t.Errorf("Depth after Interrupt = %d, want 0", got)
	}
	if got := f.sink.Zeroes(); got != 1 {
		t.Errorf("Zeroes = %d, want 1", got)
	}
}

func TestRun_MutualExclusion(t *testing.T) {
	t.Parallel()

	// While recording, queued playback frames must not reach the sink.
	f := newFixture(t, Config{PrebufferFrames: 1})
	f.store.SetRecording(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = f.queue.Enqueue(ctx, audio.Frame{PCM: voicedPCM(), At: time.Now()})
	for range 5 {
		f.mic.Push(voicedPCM())
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.pipe.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if got := len(f.sink.Writes()); got != 0 {
		t.Errorf("sink received %d frames while recording, want 0", got)
	}
	if got := len(f.out.sent()); got == 0 {
		t.Error("no capture frames forwarded while recording")
	}
}
