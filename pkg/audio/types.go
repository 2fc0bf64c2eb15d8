// Package audio defines the frame type and the int16 PCM sample math used by
// both directions of the device's audio pipeline.
//
// All PCM in this package is little-endian signed 16-bit. The capture path is
// mono at the configured sample rate; the hardware sink consumes interleaved
// stereo produced by [MonoToStereo].
package audio

import "time"

// MaxFrameBytes is the capacity of a single frame moving through the
// pipeline: 1024 samples of 16-bit PCM.
const MaxFrameBytes = 2048

// Frame is one unit of PCM audio moving through a queue. A frame is created
// by either the capture path or the inbound-network demultiplexer and is
// consumed exactly once by its corresponding sink.
type Frame struct {
	// PCM is little-endian int16 mono audio, at most [MaxFrameBytes] long.
	PCM []byte

	// At marks when the frame was captured or received.
	At time.Time
}
