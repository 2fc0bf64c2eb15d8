package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/eyeb33/jellyberry-sub000/internal/observe"
	"github.com/eyeb33/jellyberry-sub000/internal/state"
	"github.com/eyeb33/jellyberry-sub000/pkg/audio"
	"github.com/eyeb33/jellyberry-sub000/pkg/audio/vad"
	"github.com/eyeb33/jellyberry-sub000/pkg/hw"
)

// levelDelayDepth is the number of playback frames the display level lags
// behind the sink, matching downstream hardware latency.
const levelDelayDepth = 8

// idleSleep paces the loop when neither path has work.
const idleSleep = 5 * time.Millisecond

// captureReadTimeout bounds one mic read so the loop re-checks the arbiter
// flags even when the device stops delivering frames.
const captureReadTimeout = 250 * time.Millisecond

// prebufferFlush starts playback below the prebuffer threshold when the
// stream has clearly ended — a short response must not sit in the queue
// forever waiting for frames that will never come.
const prebufferFlush = 250 * time.Millisecond

// AudioSender ships captured frames to the backend. Implemented by the
// session client.
type AudioSender interface {
	SendAudio(ctx context.Context, pcm []byte) error
}

// Config configures a [Pipeline].
type Config struct {
	// MicGain is the linear capture gain with saturation clamping.
	MicGain float64

	// PrebufferFrames must accumulate after a stream start before playback
	// begins, trading latency for freedom from startup stutter.
	PrebufferFrames int

	// WriteTimeout bounds a single sink write.
	WriteTimeout time.Duration

	// OnVAD receives the classification of every captured frame. Called from
	// the audio loop; must not block.
	OnVAD func(r vad.Result, at time.Time)

	// OnLevel receives the display-facing audio level. Called from the audio
	// loop; must not block.
	OnLevel func(level float64)
}

// Pipeline owns the device's audio hardware and services the capture and
// playback paths.
type Pipeline struct {
	cfg     Config
	mic     hw.MicSource
	sink    hw.SpeakerSink
	store   *state.Store
	metrics *observe.Metrics
	sender  AudioSender
	queue   *Queue

	detector *vad.Detector
	delay    *audio.LevelDelay

	// Playback-loop local state.
	buffering  bool
	resetLevel atomic.Bool
}

// New creates a Pipeline. The queue is shared with the session receiver,
// which produces into it.
func New(cfg Config, mic hw.MicSource, sink hw.SpeakerSink, queue *Queue,
	detector *vad.Detector, store *state.Store, metrics *observe.Metrics, sender AudioSender) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		mic:       mic,
		sink:      sink,
		store:     store,
		metrics:   metrics,
		sender:    sender,
		queue:     queue,
		detector:  detector,
		delay:     audio.NewLevelDelay(levelDelayDepth),
		buffering: true,
	}
}

// Run services the audio hardware until ctx is done. One path runs per
// iteration: capture while recording or listening in a conversation window,
// playback otherwise.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case p.store.Recording() || p.store.WindowOpen():
			p.captureStep(ctx)
		default:
			p.playbackStep(ctx)
		}
	}
}

// Interrupt flushes everything queued for the ear: pending frames, sink
// buffer, and the delayed display level. Called by the arbiter when the user
// preempts a response; the playback loop observes the flush on its next
// iteration.
func (p *Pipeline) Interrupt() {
	p.queue.Clear()
	p.sink.Zero()
	p.resetLevel.Store(true)
}

// ── Capture path ──────────────────────────────────────────────────────────────

// captureStep reads one frame from the microphone, applies gain, classifies
// it, and — while recording — forwards it to the backend. Every frame is
// forwarded regardless of the VAD verdict; the backend does its own speech
// processing, and amplitude still feeds the display level.
func (p *Pipeline) captureStep(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, captureReadTimeout)
	frame, err := p.mic.ReadFrame(rctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		slog.Warn("pipeline: mic read failed", "err", err)
		sleep(ctx, idleSleep)
		return
	}

	audio.ApplyGain(frame.PCM, p.cfg.MicGain)

	inWindow := p.store.WindowOpen() && !p.store.Recording()
	res := p.detector.Process(frame.PCM, frame.At, inWindow)

	if p.cfg.OnLevel != nil {
		p.cfg.OnLevel(res.Amplitude)
	}
	if p.cfg.OnVAD != nil {
		p.cfg.OnVAD(res, frame.At)
	}

	if !p.store.Recording() {
		return
	}

	p.metrics.FramesCaptured.Add(ctx, 1)
	if err := p.sender.SendAudio(ctx, frame.PCM); err != nil {
		// Counted by the session layer; capture keeps its cadence.
		slog.Warn("pipeline: outbound frame send failed", "err", err)
	}
}

// ── Playback path ─────────────────────────────────────────────────────────────

// playbackStep drains at most one frame from the playback queue. Playback
// only proceeds once the prebuffer threshold is met after a stream start;
// the delayed level ring keeps the display in sync with audible output.
func (p *Pipeline) playbackStep(ctx context.Context) {
	if p.resetLevel.CompareAndSwap(true, false) {
		p.delay.Reset()
		p.buffering = true
	}

	depth := p.queue.Depth()
	if depth == 0 {
		// Stream drained; the next frame begins a new prebuffer phase.
		if !p.buffering && time.Since(p.queue.LastFrameAt()) > prebufferFlush {
			p.buffering = true
		}
		sleep(ctx, idleSleep)
		return
	}

	if p.buffering {
		if depth < p.cfg.PrebufferFrames && time.Since(p.queue.LastFrameAt()) < prebufferFlush {
			sleep(ctx, idleSleep)
			return
		}
		p.buffering = false
	}

	frame, ok := p.queue.TryDequeue()
	if !ok {
		return
	}

	amp := audio.MeanAmplitude(frame.PCM)
	if p.cfg.OnLevel != nil {
		p.cfg.OnLevel(p.delay.Push(amp))
	}

	pcm := make([]byte, len(frame.PCM))
	copy(pcm, frame.PCM)
	audio.ScaleVolume(pcm, p.store.Volume(), p.store.MaxVolume())
	stereo := audio.MonoToStereo(pcm)

	wctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
	err := p.sink.WriteFrame(wctx, stereo)
	cancel()
	if err != nil {
		// A glitch beats a stalled pipeline: log, count, move on.
		p.metrics.FrameDrops.Add(ctx, 1, metric.WithAttributes(observe.ReasonSinkWrite))
		slog.Warn("pipeline: sink write failed, frame skipped", "err", err)
		return
	}
	p.metrics.FramesPlayed.Add(ctx, 1)
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
