// Package config provides the configuration schema and loader for the
// Jellyberry device core.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the device.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// AudioBackend selects the hardware adapter used for microphone and speaker I/O.
type AudioBackend string

const (
	// BackendMalgo uses the miniaudio bindings for host-side mic/speaker access.
	BackendMalgo AudioBackend = "malgo"

	// BackendMock uses scriptable in-memory devices. Useful for tests and
	// headless development.
	BackendMock AudioBackend = "mock"
)

// IsValid reports whether b is a recognised audio backend.
func (b AudioBackend) IsValid() bool {
	return b == BackendMalgo || b == BackendMock
}

// Duration wraps time.Duration so YAML values can be written as "100ms", "2s", etc.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string like \"250ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for the device core.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Audio    AudioConfig    `yaml:"audio"`
	VAD      VADConfig      `yaml:"vad"`
	Turn     TurnConfig     `yaml:"turn"`
	Playback PlaybackConfig `yaml:"playback"`
	Session  SessionConfig  `yaml:"session"`
	Display  DisplayConfig  `yaml:"display"`
	Input    InputConfig    `yaml:"input"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// BackendURL is the websocket endpoint of the conversational-audio service.
	BackendURL string `yaml:"backend_url"`

	// ListenAddr is an optional TCP address for the /healthz and /metrics
	// endpoints (e.g., ":9090"). Empty disables the HTTP listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig holds capture and output format settings.
type AudioConfig struct {
	// Backend selects the hardware adapter ("malgo" or "mock").
	Backend AudioBackend `yaml:"backend"`

	// SampleRate of the capture path in Hz. The wire format advertises this
	// rate, so changing it requires a backend that accepts it. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameSamples is the number of samples per captured frame.
	// Default: 320 (20 ms at 16 kHz).
	FrameSamples int `yaml:"frame_samples"`

	// MicGain is the linear gain applied to captured samples, with saturation
	// clamping. Default: 1.0.
	MicGain float64 `yaml:"mic_gain"`

	// Volume is the startup playback volume multiplier. Default: 1.0.
	Volume float64 `yaml:"volume"`

	// MaxVolume caps the playback volume multiplier. Default: 2.0.
	MaxVolume float64 `yaml:"max_volume"`
}

// VADConfig holds voice-activity detection thresholds and timeouts.
type VADConfig struct {
	// VoiceThreshold is the mean absolute amplitude above which a captured
	// frame counts as voiced. Range [0, 32767]. Default: 500.
	VoiceThreshold float64 `yaml:"voice_threshold"`

	// WindowThreshold is the lower, faster-reacting amplitude threshold used
	// to start recording inside a conversation window. Default: 300.
	WindowThreshold float64 `yaml:"window_threshold"`

	// SilenceTimeout ends a recording once no voiced frame has been seen for
	// this long. Default: 2s.
	SilenceTimeout Duration `yaml:"silence_timeout"`

	// WindowSilenceTimeout replaces SilenceTimeout when recording was started
	// from within a conversation window, to tolerate pauses in natural
	// dialogue. Default: 4s.
	WindowSilenceTimeout Duration `yaml:"window_silence_timeout"`
}

// TurnConfig holds the turn arbiter's timing policies.
type TurnConfig struct {
	// MaxRecording is the hard cap on a single recording. Default: 30s.
	MaxRecording Duration `yaml:"max_recording"`

	// ThinkingDelay is how long the arbiter waits for a response before the
	// display shows a thinking indicator. Default: 1s.
	ThinkingDelay Duration `yaml:"thinking_delay"`

	// ProcessingTimeout is the absolute limit on waiting for a response
	// before the turn is treated as abandoned. Default: 15s.
	ProcessingTimeout Duration `yaml:"processing_timeout"`

	// WindowDuration is the length of the post-response conversation window.
	// Default: 6s.
	WindowDuration Duration `yaml:"window_duration"`

	// PlaybackIdle is how long the playback queue must sit without a new
	// inbound frame before playback can be declared finished. Default: 1500ms.
	PlaybackIdle Duration `yaml:"playback_idle"`

	// DrainThreshold is the queue depth below which playback can be declared
	// finished. Both this and PlaybackIdle must hold. Default: 2.
	DrainThreshold int `yaml:"drain_threshold"`

	// InterruptRecency is the window after the last received audio frame in
	// which a start trigger preempts playback. Default: 2s.
	InterruptRecency Duration `yaml:"interrupt_recency"`
}

// PlaybackConfig holds jitter-buffer and sink settings.
type PlaybackConfig struct {
	// QueueCapacity is the bounded FIFO capacity in frames. Default: 30.
	QueueCapacity int `yaml:"queue_capacity"`

	// PrebufferFrames must accumulate after a stream start before playback
	// begins. Default: 8.
	PrebufferFrames int `yaml:"prebuffer_frames"`

	// EnqueueTimeout bounds how long the network receiver blocks on a full
	// queue before the frame is dropped and the drop counted. Default: 100ms.
	EnqueueTimeout Duration `yaml:"enqueue_timeout"`

	// WriteTimeout bounds a single hardware sink write. Default: 200ms.
	WriteTimeout Duration `yaml:"write_timeout"`
}

// SessionConfig holds connection lifecycle settings.
type SessionConfig struct {
	// ReconnectBackoff is the initial backoff between reconnection attempts.
	// Doubles each attempt up to ReconnectMaxBackoff. Default: 1s.
	ReconnectBackoff Duration `yaml:"reconnect_backoff"`

	// ReconnectMaxBackoff caps the backoff. Default: 30s.
	ReconnectMaxBackoff Duration `yaml:"reconnect_max_backoff"`

	// MaxRetries bounds reconnection attempts per disconnect. Default: 10.
	MaxRetries int `yaml:"max_retries"`

	// KeepaliveInterval between websocket pings. Default: 20s.
	KeepaliveInterval Duration `yaml:"keepalive_interval"`
}

// DisplayConfig holds display refresh settings.
type DisplayConfig struct {
	// RefreshInterval between render ticks. Default: 50ms.
	RefreshInterval Duration `yaml:"refresh_interval"`
}

// InputConfig holds button handling settings.
type InputConfig struct {
	// Debounce is the minimum spacing between accepted edges. Default: 30ms.
	Debounce Duration `yaml:"debounce"`

	// LongPress is the hold duration that distinguishes a long press.
	// Default: 2s.
	LongPress Duration `yaml:"long_press"`
}
