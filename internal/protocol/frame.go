// Package protocol implements the wire format spoken with the
// conversational-audio backend: raw binary PCM frames, optionally prefixed
// with an ambient-stream tag, and small JSON control documents.
//
// Decoding happens exactly once at this boundary; the rest of the device
// works with the typed values defined here.
package protocol

import "encoding/binary"

// Ambient-frame tag: two magic bytes followed by a little-endian uint16
// sequence number.
const (
	magic0 = 0xA5
	magic1 = 0x5A

	// TagLen is the size of the ambient-frame header.
	TagLen = 4
)

// BinaryFrame is a decoded inbound binary frame: either ambient-stream audio
// carrying its stream sequence, or untagged foreground response audio.
type BinaryFrame interface {
	isBinaryFrame()
}

// AmbientFrame is audio belonging to the ambient stream with the given
// sequence number. Frames whose sequence does not match the device's current
// ambient identity are stale and must be discarded.
type AmbientFrame struct {
	Seq uint16
	PCM []byte
}

// ForegroundFrame is untagged response audio from the current turn.
type ForegroundFrame struct {
	PCM []byte
}

func (AmbientFrame) isBinaryFrame()    {}
func (ForegroundFrame) isBinaryFrame() {}

// DecodeBinary inspects data for the ambient tag and returns the decoded
// frame. The payload slices alias data; callers that retain frames across
// reads must copy.
func DecodeBinary(data []byte) BinaryFrame {
	if len(data) >= TagLen && data[0] == magic0 && data[1] == magic1 {
		return AmbientFrame{
			Seq: binary.LittleEndian.Uint16(data[2:4]),
			PCM: data[TagLen:],
		}
	}
	return ForegroundFrame{PCM: data}
}

// EncodeAmbient prepends the ambient tag to pcm. Used by tests and by mock
// backends; the device itself only decodes.
func EncodeAmbient(seq uint16, pcm []byte) []byte {
	out := make([]byte, TagLen+len(pcm))
	out[0] = magic0
	out[1] = magic1
	binary.LittleEndian.PutUint16(out[2:4], seq)
	copy(out[TagLen:], pcm)
	return out
}
