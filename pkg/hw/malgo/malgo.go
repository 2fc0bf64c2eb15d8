// Package malgo adapts host audio devices (via the miniaudio bindings) to the
// hw interfaces, so the device core can run against a workstation's
// microphone and speakers during development.
package malgo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/eyeb33/jellyberry-sub000/pkg/audio"
	"github.com/eyeb33/jellyberry-sub000/pkg/hw"
)

// Compile-time assertions that the adapters satisfy the hw interfaces.
var _ hw.MicSource = (*Mic)(nil)
var _ hw.SpeakerSink = (*Sink)(nil)

// maxSinkBuffer bounds the PCM the sink holds ahead of the hardware, roughly
// half a second of 16 kHz stereo.
const maxSinkBuffer = 32 * 1024

// Context owns the shared miniaudio context. Create one per process and pass
// it to [NewMic] and [NewSink].
type Context struct {
	ctx *malgo.AllocatedContext
}

// NewContext initialises the miniaudio backend.
func NewContext() (*Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	return &Context{ctx: ctx}, nil
}

// Close releases the miniaudio context. Close all devices first.
func (c *Context) Close() {
	_ = c.ctx.Uninit()
	c.ctx.Free()
}

// ── Mic ───────────────────────────────────────────────────────────────────────

// Mic captures mono int16 PCM from the default host microphone and delivers
// it as fixed-size frames.
type Mic struct {
	device     *malgo.Device
	chunks     chan []byte
	frameBytes int

	mu        sync.Mutex
	pending   []byte
	closeOnce sync.Once
	closed    chan struct{}
}

// NewMic opens the default capture device at the given sample rate and frame
// size (in samples) and starts capturing immediately.
func NewMic(c *Context, sampleRate, frameSamples int) (*Mic, error) {
	m := &Mic{
		chunks:     make(chan []byte, 64),
		frameBytes: frameSamples * 2,
		closed:     make(chan struct{}),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(sampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, _ uint32) {
			cp := make([]byte, len(data))
			copy(cp, data)
			select {
			case m.chunks <- cp:
			default:
				// Reader has fallen behind; dropping at the device boundary
				// keeps the callback non-blocking.
			}
		},
	}

	dev, err := malgo.InitDevice(c.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("malgo: init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("malgo: start capture device: %w", err)
	}
	m.device = dev
	return m, nil
}

// ReadFrame implements hw.MicSource. It assembles device chunks into frames
// of exactly the configured size.
func (m *Mic) ReadFrame(ctx context.Context) (audio.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.pending) < m.frameBytes {
		m.mu.Unlock()
		var chunk []byte
		select {
		case chunk = <-m.chunks:
		case <-m.closed:
			m.mu.Lock()
			return audio.Frame{}, fmt.Errorf("malgo: mic closed")
		case <-ctx.Done():
			m.mu.Lock()
			return audio.Frame{}, ctx.Err()
		}
		m.mu.Lock()
		m.pending = append(m.pending, chunk...)
	}

	frame := make([]byte, m.frameBytes)
	copy(frame, m.pending)
	m.pending = m.pending[m.frameBytes:]
	return audio.Frame{PCM: frame, At: time.Now()}, nil
}

// Close implements hw.MicSource.
func (m *Mic) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
		_ = m.device.Stop()
		m.device.Uninit()
	})
	return nil
}

// ── Sink ──────────────────────────────────────────────────────────────────────

// Sink plays interleaved stereo int16 PCM on the default host output device.
// The device callback drains an internal buffer; [Sink.WriteFrame] refills it
// with bounded blocking so playback pacing applies backpressure upstream.
type Sink struct {
	device *malgo.Device

	mu        sync.Mutex
	buf       []byte
	closeOnce sync.Once
	closed    chan struct{}
}

// NewSink opens the default playback device at the given sample rate and
// starts it. The device emits silence while the buffer is empty.
func NewSink(c *Context, sampleRate int) (*Sink, error) {
	s := &Sink{closed: make(chan struct{})}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 2
	cfg.SampleRate = uint32(sampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			s.mu.Lock()
			n := copy(out, s.buf)
			s.buf = s.buf[n:]
			s.mu.Unlock()
			for i := n; i < len(out); i++ {
				out[i] = 0
			}
		},
	}

	dev, err := malgo.InitDevice(c.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("malgo: init playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("malgo: start playback device: %w", err)
	}
	s.device = dev
	return s, nil
}

// WriteFrame implements hw.SpeakerSink. It blocks while the internal buffer
// is full, polling until space frees up or ctx expires.
func (s *Sink) WriteFrame(ctx context.Context, pcm []byte) error {
	for {
		s.mu.Lock()
		if len(s.buf)+len(pcm) <= maxSinkBuffer {
			s.buf = append(s.buf, pcm...)
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("malgo: sink write: %w", ctx.Err())
		case <-s.closed:
			return fmt.Errorf("malgo: sink closed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Zero implements hw.SpeakerSink. It discards all buffered PCM so the device
// callback falls back to silence on its next pull.
func (s *Sink) Zero() {
	s.mu.Lock()
	s.buf = nil
	s.mu.Unlock()
}

// Close implements hw.SpeakerSink.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.device.Stop()
		s.device.Uninit()
	})
	return nil
}
