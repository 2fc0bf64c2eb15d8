// Command jellyberry is the control core of the Jellyberry voice device.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/eyeb33/jellyberry-sub000/internal/app"
	"github.com/eyeb33/jellyberry-sub000/internal/config"
	"github.com/eyeb33/jellyberry-sub000/internal/display"
	"github.com/eyeb33/jellyberry-sub000/internal/observe"
	hwmalgo "github.com/eyeb33/jellyberry-sub000/pkg/hw/malgo"
	hwmock "github.com/eyeb33/jellyberry-sub000/pkg/hw/mock"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "jellyberry: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "jellyberry: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("jellyberry starting",
		"config", *configPath,
		"backend_url", cfg.Server.BackendURL,
		"audio_backend", cfg.Audio.Backend,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Hardware ──────────────────────────────────────────────────────────────
	hardware, cleanup, err := buildHardware(cfg)
	if err != nil {
		slog.Error("failed to open audio hardware", "err", err)
		return 1
	}
	defer cleanup()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfg, hardware, metrics)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("device core ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Hardware wiring ───────────────────────────────────────────────────────────

// buildHardware opens the configured audio backend. The mock backend gives a
// silent mic and a discarding sink for headless development.
func buildHardware(cfg *config.Config) (app.Hardware, func(), error) {
	renderer := logRenderer{}

	switch cfg.Audio.Backend {
	case config.BackendMalgo:
		mctx, err := hwmalgo.NewContext()
		if err != nil {
			return app.Hardware{}, nil, err
		}
		mic, err := hwmalgo.NewMic(mctx, cfg.Audio.SampleRate, cfg.Audio.FrameSamples)
		if err != nil {
			mctx.Close()
			return app.Hardware{}, nil, err
		}
		sink, err := hwmalgo.NewSink(mctx, cfg.Audio.SampleRate)
		if err != nil {
			_ = mic.Close()
			mctx.Close()
			return app.Hardware{}, nil, err
		}
		cleanup := func() {
			_ = sink.Close()
			_ = mic.Close()
			mctx.Close()
		}
		return app.Hardware{Mic: mic, Sink: sink, Renderer: renderer}, cleanup, nil

	case config.BackendMock:
		mic := hwmock.NewMic()
		sink := hwmock.NewSink()
		cleanup := func() {
			_ = sink.Close()
			_ = mic.Close()
		}
		return app.Hardware{Mic: mic, Sink: sink, Renderer: renderer}, cleanup, nil

	default:
		return app.Hardware{}, nil, fmt.Errorf("unknown audio backend %q", cfg.Audio.Backend)
	}
}

// logRenderer is the default renderer: face changes land in the log. Real
// panel drivers implement [display.Renderer] on the target hardware.
type logRenderer struct{}

var _ display.Renderer = logRenderer{}

func (logRenderer) Render(s display.Snapshot) error {
	slog.Debug("display", "face", s.Face, "thinking", s.Thinking, "connected", s.Connected)
	return nil
}

func (logRenderer) Close() error { return nil }

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Jellyberry — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Backend URL", cfg.Server.BackendURL)
	printRow("Audio backend", string(cfg.Audio.Backend))
	printRow("Sample rate", fmt.Sprintf("%d Hz", cfg.Audio.SampleRate))
	printRow("Frame size", fmt.Sprintf("%d samples", cfg.Audio.FrameSamples))
	printRow("Queue capacity", fmt.Sprintf("%d frames", cfg.Playback.QueueCapacity))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
