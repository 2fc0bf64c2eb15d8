// Package app wires the device subsystems into a running core.
//
// New builds every component from config plus the injected hardware; Run
// executes the runtime loops under one errgroup: the session client, the
// audio pipeline, the turn arbiter, the display task, the input debouncer,
// and the control-document router. Cancelling the context shuts everything
// down together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eyeb33/jellyberry-sub000/internal/arbiter"
	"github.com/eyeb33/jellyberry-sub000/internal/config"
	"github.com/eyeb33/jellyberry-sub000/internal/display"
	"github.com/eyeb33/jellyberry-sub000/internal/feature"
	"github.com/eyeb33/jellyberry-sub000/internal/health"
	"github.com/eyeb33/jellyberry-sub000/internal/input"
	"github.com/eyeb33/jellyberry-sub000/internal/observe"
	"github.com/eyeb33/jellyberry-sub000/internal/pipeline"
	"github.com/eyeb33/jellyberry-sub000/internal/protocol"
	"github.com/eyeb33/jellyberry-sub000/internal/session"
	"github.com/eyeb33/jellyberry-sub000/internal/state"
	"github.com/eyeb33/jellyberry-sub000/pkg/audio"
	"github.com/eyeb33/jellyberry-sub000/pkg/audio/vad"
	"github.com/eyeb33/jellyberry-sub000/pkg/hw"
)

// Hardware bundles the injected device peripherals. All three are required;
// tests pass the mock implementations.
type Hardware struct {
	Mic      hw.MicSource
	Sink     hw.SpeakerSink
	Renderer display.Renderer
}

// App owns the assembled device core.
type App struct {
	cfg     *config.Config
	store   *state.Store
	metrics *observe.Metrics

	queue    *pipeline.Queue
	sess     *session.Client
	pipe     *pipeline.Pipeline
	arb      *arbiter.Arbiter
	disp     *display.Task
	buttons  *input.Debouncer
	features *feature.Registry
}

// New assembles the device core from config and hardware.
func New(cfg *config.Config, hardware Hardware, metrics *observe.Metrics) (*App, error) {
	if hardware.Mic == nil || hardware.Sink == nil || hardware.Renderer == nil {
		return nil, fmt.Errorf("app: mic, sink and renderer are all required")
	}

	a := &App{
		cfg:     cfg,
		store:   state.New(cfg.Audio.Volume, cfg.Audio.MaxVolume),
		metrics: metrics,
	}

	a.queue = pipeline.NewQueue(cfg.Playback.QueueCapacity, cfg.Playback.EnqueueTimeout.Std(), metrics)
	a.disp = display.NewTask(hardware.Renderer, cfg.Display.RefreshInterval.Std())
	a.features = feature.NewRegistry()

	a.sess = session.New(session.Config{
		URL:               cfg.Server.BackendURL,
		KeepaliveInterval: cfg.Session.KeepaliveInterval.Std(),
		Backoff:           cfg.Session.ReconnectBackoff.Std(),
		MaxBackoff:        cfg.Session.ReconnectMaxBackoff.Std(),
		MaxRetries:        cfg.Session.MaxRetries,
		OnReady:           a.playConnectionCue,
		OnForeground: func() {
			a.arb.Offer(arbiter.Event{Kind: arbiter.EventForegroundAudio, At: time.Now()})
		},
	}, a.store, metrics, a.queue)

	detector := vad.New(vad.Config{
		VoiceThreshold:  cfg.VAD.VoiceThreshold,
		WindowThreshold: cfg.VAD.WindowThreshold,
	})

	a.pipe = pipeline.New(pipeline.Config{
		MicGain:         cfg.Audio.MicGain,
		PrebufferFrames: cfg.Playback.PrebufferFrames,
		WriteTimeout:    cfg.Playback.WriteTimeout.Std(),
		OnVAD: func(r vad.Result, at time.Time) {
			if r.Voiced {
				a.arb.Offer(arbiter.Event{Kind: arbiter.EventVoice, Amplitude: r.Amplitude, At: at})
			}
		},
		OnLevel: func(level float64) {
			a.disp.Send(display.WithLevel(level))
		},
	}, hardware.Mic, hardware.Sink, a.queue, detector, a.store, metrics, a.sess)

	a.arb = arbiter.New(arbiter.Config{
		MaxRecording:         cfg.Turn.MaxRecording.Std(),
		SilenceTimeout:       cfg.VAD.SilenceTimeout.Std(),
		WindowSilenceTimeout: cfg.VAD.WindowSilenceTimeout.Std(),
		ThinkingDelay:        cfg.Turn.ThinkingDelay.Std(),
		ProcessingTimeout:    cfg.Turn.ProcessingTimeout.Std(),
		WindowDuration:       cfg.Turn.WindowDuration.Std(),
		PlaybackIdle:         cfg.Turn.PlaybackIdle.Std(),
		DrainThreshold:       cfg.Turn.DrainThreshold,
		InterruptRecency:     cfg.Turn.InterruptRecency.Std(),
		OnMode: func(m arbiter.Mode) {
			a.disp.Send(display.WithFace(faceFor(m)))
		},
		OnThinking: func(v bool) {
			a.disp.Send(display.WithThinking(v))
		},
	}, a.store, a.queue, a.pipe, a.sess, metrics)

	a.features.OnAlarmFire = func() {
		a.arb.Offer(arbiter.Event{Kind: arbiter.EventAlarmFire, At: time.Now()})
	}

	a.buttons = input.NewDebouncer(input.Config{
		Debounce:  cfg.Input.Debounce.Std(),
		LongPress: cfg.Input.LongPress.Std(),
		OnShort: func(at time.Time) {
			a.arb.Offer(arbiter.Event{Kind: arbiter.EventPressShort, At: at})
		},
		OnLong: func(at time.Time) {
			a.arb.Offer(arbiter.Event{Kind: arbiter.EventPressLong, At: at})
		},
	})

	return a, nil
}

// Buttons returns the input debouncer so the platform layer can feed raw
// button edges into the core.
func (a *App) Buttons() *input.Debouncer { return a.buttons }

// Session returns the session client for platform-level actions such as
// starting an ambient stream.
func (a *App) Session() *session.Client { return a.sess }

// Store returns the shared state store.
func (a *App) Store() *state.Store { return a.store }

// Features returns the background-activity registry.
func (a *App) Features() *feature.Registry { return a.features }

// Run executes all runtime loops until ctx is cancelled. Returns nil on a
// clean shutdown.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.sess.Run(ctx) })
	g.Go(func() error { return a.pipe.Run(ctx) })
	g.Go(func() error { return a.arb.Run(ctx) })
	g.Go(func() error { return a.disp.Run(ctx) })
	g.Go(func() error { return a.buttons.Run(ctx) })
	g.Go(func() error { return a.routeControls(ctx) })
	g.Go(func() error { return a.watchConnectivity(ctx) })

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		g.Go(func() error { return a.serveHTTP(ctx, addr) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: runtime loop failed: %w", err)
	}
	return nil
}

// routeControls forwards decoded control documents to their consumers: turn
// and stream completions to the arbiter, feature payloads to the registry.
func (a *App) routeControls(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ctl, ok := <-a.sess.Controls():
			if !ok {
				return nil
			}
			switch {
			case ctl.Type == protocol.TypeTurnComplete:
				a.arb.Offer(arbiter.Event{Kind: arbiter.EventTurnComplete, At: time.Now()})
			case ctl.Type == protocol.TypeAmbientComplete:
				a.arb.Offer(arbiter.Event{Kind: arbiter.EventAmbientComplete, At: time.Now()})
			case ctl.IsFeature():
				a.features.Apply(ctl)
			default:
				slog.Debug("app: control document unrouted", "type", ctl.Type)
			}
		}
	}
}

// watchConnectivity mirrors the connection flag onto the display badge.
func (a *App) watchConnectivity(ctx context.Context) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	last := a.store.Connected()
	a.disp.Send(display.WithConnected(last))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if now := a.store.Connected(); now != last {
				last = now
				a.disp.Send(display.WithConnected(now))
			}
		}
	}
}

// serveHTTP exposes /healthz, /readyz and /metrics on addr.
func (a *App) serveHTTP(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	health.New(health.SessionChecker(a.store)).Register(mux)
	srv := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	slog.Info("app: http listener up", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http listener: %w", err)
	}
}

// playConnectionCue queues a short two-note chime. Runs on the session's
// ready transition, already rate-limited by the client's cue suppression.
func (a *App) playConnectionCue() {
	rate := a.cfg.Audio.SampleRate
	frameBytes := a.cfg.Audio.FrameSamples * 2
	pcm := append(
		audio.Tone(660, rate, 90*time.Millisecond, 9000),
		audio.Tone(880, rate, 120*time.Millisecond, 9000)...,
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	now := time.Now()
	for off := 0; off < len(pcm); off += frameBytes {
		end := off + frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := a.queue.Enqueue(ctx, audio.Frame{PCM: pcm[off:end], At: now}); err != nil {
			slog.Debug("app: connection cue dropped", "err", err)
			return
		}
	}
}

// faceFor maps an arbiter mode to the display expression.
func faceFor(m arbiter.Mode) display.Face {
	switch m {
	case arbiter.Recording:
		return display.FaceListening
	case arbiter.Processing:
		return display.FaceThinking
	case arbiter.Playing:
		return display.FaceSpeaking
	case arbiter.ConversationWindow:
		return display.FaceWindow
	case arbiter.Alarm:
		return display.FaceAlarm
	default:
		return display.FaceNeutral
	}
}
