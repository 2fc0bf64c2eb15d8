// Package vad implements amplitude-threshold voice activity detection.
//
// The detector is synchronous by design: [Detector.Process] returns
// immediately with a classification, making it suitable for the low-latency
// capture loop that gates outbound audio. Each Detector maintains its own
// state (last voiced instant, recording start) so independent streams can be
// classified concurrently with separate instances.
//
// A Detector is not safe for concurrent use; it is owned by the capture loop.
package vad

import (
	"time"

	"github.com/eyeb33/jellyberry-sub000/pkg/audio"
)

// Config holds the detector thresholds.
type Config struct {
	// VoiceThreshold is the mean absolute amplitude at or above which a frame
	// is classified as voiced. Range [0, 32767].
	VoiceThreshold float64

	// WindowThreshold is the lower, faster-reacting threshold applied when
	// classifying frames inside a conversation window.
	WindowThreshold float64
}

// Result is the classification of a single frame.
type Result struct {
	// Voiced reports whether the frame's amplitude met the active threshold.
	Voiced bool

	// Amplitude is the frame's mean absolute sample value. It doubles as the
	// display-facing audio level for the capture path.
	Amplitude float64
}

// Detector classifies capture frames as voiced or silent and tracks the last
// voiced instant for silence-timeout decisions.
type Detector struct {
	cfg Config

	lastVoiceAt time.Time
}

// New creates a Detector with the given thresholds.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Process classifies one PCM frame. When inWindow is true the lower
// conversation-window threshold applies. Voiced frames update the detector's
// last-voice timestamp to now.
func (d *Detector) Process(pcm []byte, now time.Time, inWindow bool) Result {
	amp := audio.MeanAmplitude(pcm)
	threshold := d.cfg.VoiceThreshold
	if inWindow {
		threshold = d.cfg.WindowThreshold
	}
	voiced := amp >= threshold
	if voiced {
		d.lastVoiceAt = now
	}
	return Result{Voiced: voiced, Amplitude: amp}
}

// LastVoiceAt returns the instant of the most recent voiced frame, or the
// zero time if none has been seen since the last Reset.
func (d *Detector) LastVoiceAt() time.Time { return d.lastVoiceAt }

// Reset clears accumulated state. Call when a new recording starts so silence
// timing is measured from the fresh segment, not a previous one.
func (d *Detector) Reset(now time.Time) {
	d.lastVoiceAt = now
}
