// Package mock provides scriptable hardware doubles for pipeline tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/eyeb33/jellyberry-sub000/pkg/audio"
)

// Mic is a scriptable [hw.MicSource]. Frames pushed via [Mic.Push] are
// delivered to ReadFrame in order. When the script is exhausted ReadFrame
// blocks until more frames arrive or the context is cancelled.
type Mic struct {
	frames chan audio.Frame

	// ReadErr, when non-nil, is returned by every ReadFrame call.
	ReadErr error

	closeOnce sync.Once
}

// NewMic creates a Mic with room for buffered scripted frames.
func NewMic() *Mic {
	return &Mic{frames: make(chan audio.Frame, 256)}
}

// Push scripts one capture frame.
func (m *Mic) Push(pcm []byte) {
	m.frames <- audio.Frame{PCM: pcm, At: time.Now()}
}

// PushSilence scripts n zero-valued frames of the given byte size.
func (m *Mic) PushSilence(n, size int) {
	for range n {
		m.Push(make([]byte, size))
	}
}

// ReadFrame implements hw.MicSource.
func (m *Mic) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if m.ReadErr != nil {
		return audio.Frame{}, m.ReadErr
	}
	select {
	case f, ok := <-m.frames:
		if !ok {
			return audio.Frame{}, context.Canceled
		}
		return f, nil
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	}
}

// Close implements hw.MicSource.
func (m *Mic) Close() error {
	m.closeOnce.Do(func() { close(m.frames) })
	return nil
}

// Sink is a recording [hw.SpeakerSink]. Every successful write is appended to
// Writes; Zero calls are counted.
type Sink struct {
	mu     sync.Mutex
	writes [][]byte
	zeroes int

	// WriteErr, when non-nil, is returned by every WriteFrame call.
	WriteErr error

	// WriteDelay simulates slow hardware; WriteFrame honours ctx while waiting.
	WriteDelay time.Duration
}

// NewSink creates an empty recording sink.
func NewSink() *Sink { return &Sink{} }

// WriteFrame implements hw.SpeakerSink.
func (s *Sink) WriteFrame(ctx context.Context, pcm []byte) error {
	if s.WriteDelay > 0 {
		select {
		case <-time.After(s.WriteDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.WriteErr != nil {
		return s.WriteErr
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.mu.Lock()
	s.writes = append(s.writes, cp)
	s.mu.Unlock()
	return nil
}

// Zero implements hw.SpeakerSink.
func (s *Sink) Zero() {
	s.mu.Lock()
	s.zeroes++
	s.mu.Unlock()
}

// Close implements hw.SpeakerSink.
func (s *Sink) Close() error { return nil }

// Writes returns a snapshot of all frames written so far.
func (s *Sink) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.writes))
	copy(out, s.writes)
	return out
}

// Zeroes returns how many times Zero was called.
func (s *Sink) Zeroes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zeroes
}
