package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with every field set to its documented default.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = BackendMock
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.FrameSamples == 0 {
		cfg.Audio.FrameSamples = 320
	}
	if cfg.Audio.MicGain == 0 {
		cfg.Audio.MicGain = 1.0
	}
	if cfg.Audio.Volume == 0 {
		cfg.Audio.Volume = 1.0
	}
	if cfg.Audio.MaxVolume == 0 {
		cfg.Audio.MaxVolume = 2.0
	}

	if cfg.VAD.VoiceThreshold == 0 {
		cfg.VAD.VoiceThreshold = 500
	}
	if cfg.VAD.WindowThreshold == 0 {
		cfg.VAD.WindowThreshold = 300
	}
	defaultDuration(&cfg.VAD.SilenceTimeout, 2*time.Second)
	defaultDuration(&cfg.VAD.WindowSilenceTimeout, 4*time.Second)

	defaultDuration(&cfg.Turn.MaxRecording, 30*time.Second)
	defaultDuration(&cfg.Turn.ThinkingDelay, time.Second)
	defaultDuration(&cfg.Turn.ProcessingTimeout, 15*time.Second)
	defaultDuration(&cfg.Turn.WindowDuration, 6*time.Second)
	defaultDuration(&cfg.Turn.PlaybackIdle, 1500*time.Millisecond)
	if cfg.Turn.DrainThreshold == 0 {
		cfg.Turn.DrainThreshold = 2
	}
	defaultDuration(&cfg.Turn.InterruptRecency, 2*time.Second)

	if cfg.Playback.QueueCapacity == 0 {
		cfg.Playback.QueueCapacity = 30
	}
	if cfg.Playback.PrebufferFrames == 0 {
		cfg.Playback.PrebufferFrames = 8
	}
	defaultDuration(&cfg.Playback.EnqueueTimeout, 100*time.Millisecond)
	defaultDuration(&cfg.Playback.WriteTimeout, 200*time.Millisecond)

	defaultDuration(&cfg.Session.ReconnectBackoff, time.Second)
	defaultDuration(&cfg.Session.ReconnectMaxBackoff, 30*time.Second)
	if cfg.Session.MaxRetries == 0 {
		cfg.Session.MaxRetries = 10
	}
	defaultDuration(&cfg.Session.KeepaliveInterval, 20*time.Second)

	defaultDuration(&cfg.Display.RefreshInterval, 50*time.Millisecond)

	defaultDuration(&cfg.Input.Debounce, 30*time.Millisecond)
	defaultDuration(&cfg.Input.LongPress, 2*time.Second)
}

func defaultDuration(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Audio.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: malgo, mock", cfg.Audio.Backend))
	}
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameSamples <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_samples %d must be positive", cfg.Audio.FrameSamples))
	}
	if cfg.Audio.FrameSamples*2 > 2048 {
		errs = append(errs, fmt.Errorf("audio.frame_samples %d exceeds the 2048-byte frame capacity", cfg.Audio.FrameSamples))
	}
	if cfg.Audio.MicGain < 0 {
		errs = append(errs, fmt.Errorf("audio.mic_gain %.2f must not be negative", cfg.Audio.MicGain))
	}
	if cfg.Audio.MaxVolume <= 0 {
		errs = append(errs, fmt.Errorf("audio.max_volume %.2f must be positive", cfg.Audio.MaxVolume))
	}
	if cfg.Audio.Volume < 0 || cfg.Audio.Volume > cfg.Audio.MaxVolume {
		errs = append(errs, fmt.Errorf("audio.volume %.2f is out of range [0, %.2f]", cfg.Audio.Volume, cfg.Audio.MaxVolume))
	}

	if cfg.VAD.WindowThreshold > cfg.VAD.VoiceThreshold {
		errs = append(errs, fmt.Errorf("vad.window_threshold %.0f must not exceed vad.voice_threshold %.0f", cfg.VAD.WindowThreshold, cfg.VAD.VoiceThreshold))
	}

	if cfg.Turn.DrainThreshold < 1 {
		errs = append(errs, fmt.Errorf("turn.drain_threshold %d must be at least 1", cfg.Turn.DrainThreshold))
	}
	if cfg.Turn.DrainThreshold >= cfg.Playback.QueueCapacity {
		errs = append(errs, fmt.Errorf("turn.drain_threshold %d must be below playback.queue_capacity %d", cfg.Turn.DrainThreshold, cfg.Playback.QueueCapacity))
	}
	if cfg.Playback.PrebufferFrames >= cfg.Playback.QueueCapacity {
		errs = append(errs, fmt.Errorf("playback.prebuffer_frames %d must be below playback.queue_capacity %d", cfg.Playback.PrebufferFrames, cfg.Playback.QueueCapacity))
	}

	return errors.Join(errs...)
}
