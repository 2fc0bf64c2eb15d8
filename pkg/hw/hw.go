// Package hw defines the interfaces between the device core and its audio
// hardware.
//
// The two abstractions are:
//
//   - [MicSource] — delivers fixed-size capture frames.
//   - [SpeakerSink] — accepts stereo PCM for playback.
//
// Implementations wrap real hardware (see hw/malgo for a host adapter) or
// test doubles (see hw/mock). The interfaces are intentionally narrow so the
// pipeline stays decoupled from driver details. Both calls carry bounded
// timeouts via their contexts; neither is ever retried by the pipeline — a
// failed or partial operation is logged and skipped, because an audio glitch
// is preferable to a stalled loop.
package hw

import (
	"context"

	"github.com/eyeb33/jellyberry-sub000/pkg/audio"
)

// MicSource captures audio frames from the microphone.
//
// Implementations must be safe for use from a single reader goroutine.
type MicSource interface {
	// ReadFrame blocks until one capture frame is available or ctx is done.
	// The returned frame's PCM is owned by the caller.
	ReadFrame(ctx context.Context) (audio.Frame, error)

	// Close releases the capture device. Safe to call more than once.
	Close() error
}

// SpeakerSink plays interleaved stereo int16 PCM.
//
// Implementations must be safe for concurrent use: WriteFrame is called from
// the playback loop while Zero may be called from the arbiter on interruption.
type SpeakerSink interface {
	// WriteFrame blocks until pcm has been handed to the hardware or ctx is
	// done. A partial write is reported as an error; the caller skips the
	// frame rather than retrying.
	WriteFrame(ctx context.Context, pcm []byte) error

	// Zero immediately silences the output and discards any PCM the sink has
	// buffered. Used when a response is interrupted mid-playback.
	Zero()

	// Close releases the playback device. Safe to call more than once.
	Close() error
}
