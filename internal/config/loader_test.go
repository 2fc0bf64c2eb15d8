package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.FrameSamples != 320 {
		t.Errorf("FrameSamples = %d, want 320", cfg.Audio.FrameSamples)
	}
	if cfg.VAD.VoiceThreshold != 500 {
		t.Errorf("VoiceThreshold = %v, want 500", cfg.VAD.VoiceThreshold)
	}
	if cfg.Turn.PlaybackIdle.Std() != 1500*time.Millisecond {
		t.Errorf("PlaybackIdle = %v, want 1.5s", cfg.Turn.PlaybackIdle.Std())
	}
	if cfg.Playback.QueueCapacity != 30 || cfg.Playback.PrebufferFrames != 8 {
		t.Errorf("playback = %+v", cfg.Playback)
	}
	if cfg.Playback.EnqueueTimeout.Std() != 100*time.Millisecond {
		t.Errorf("EnqueueTimeout = %v, want 100ms", cfg.Playback.EnqueueTimeout.Std())
	}
	if cfg.Audio.Backend != BackendMock {
		t.Errorf("Backend = %q, want mock default", cfg.Audio.Backend)
	}
}

func TestLoadFromReader_Overrides(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  backend_url: wss://example.com/session
  log_level: debug
audio:
  backend: malgo
  mic_gain: 1.5
vad:
  silence_timeout: 3s
turn:
  interrupt_recency: 750ms
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.BackendURL != "wss://example.com/session" {
		t.Errorf("BackendURL = %q", cfg.Server.BackendURL)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Audio.Backend != BackendMalgo {
		t.Errorf("Backend = %q, want malgo", cfg.Audio.Backend)
	}
	if cfg.Audio.MicGain != 1.5 {
		t.Errorf("MicGain = %v, want 1.5", cfg.Audio.MicGain)
	}
	if cfg.VAD.SilenceTimeout.Std() != 3*time.Second {
		t.Errorf("SilenceTimeout = %v, want 3s", cfg.VAD.SilenceTimeout.Std())
	}
	if cfg.Turn.InterruptRecency.Std() != 750*time.Millisecond {
		t.Errorf("InterruptRecency = %v, want 750ms", cfg.Turn.InterruptRecency.Std())
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	if _, err := LoadFromReader(strings.NewReader("bogus_section: {}")); err == nil {
		t.Error("want error for unknown top-level field")
	}
}

func TestLoadFromReader_BadDuration(t *testing.T) {
	t.Parallel()

	yaml := "vad:\n  silence_timeout: banana\n"
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Error("want error for unparseable duration")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid log level", func(c *Config) { c.Server.LogLevel = "verbose" }},
		{"invalid backend", func(c *Config) { c.Audio.Backend = "pulseaudio" }},
		{"frame exceeds capacity", func(c *Config) { c.Audio.FrameSamples = 2000 }},
		{"negative mic gain", func(c *Config) { c.Audio.MicGain = -0.5 }},
		{"volume above cap", func(c *Config) { c.Audio.Volume = 3 }},
		{"window threshold above voice threshold", func(c *Config) { c.VAD.WindowThreshold = 900 }},
		{"drain at queue capacity", func(c *Config) { c.Turn.DrainThreshold = 30 }},
		{"prebuffer at queue capacity", func(c *Config) { c.Playback.PrebufferFrames = 30 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}

	t.Run("defaults validate", func(t *testing.T) {
		if err := Validate(Default()); err != nil {
			t.Errorf("Validate(Default()) = %v", err)
		}
	})
}
