// Package pipeline implements the device's real-time audio paths: capture
// (microphone → gain → VAD → outbound) and playback (jitter queue → volume →
// hardware sink).
//
// The two paths are mutually exclusive on the audio hardware; the loop in
// [Pipeline.Run] services exactly one of them per iteration based on the
// arbiter-owned flags.
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/eyeb33/jellyberry-sub000/internal/observe"
	"github.com/eyeb33/jellyberry-sub000/pkg/audio"
)

// ErrQueueFull is returned by [Queue.Enqueue] when the admission timeout
// elapses on a full queue. Treated as a fault condition by the caller, not
// routine flow.
var ErrQueueFull = errors.New("pipeline: playback queue full")

// Queue is the bounded FIFO of inbound audio frames awaiting playback.
// The producer (network receiver) blocks with a bounded timeout rather than
// drop when full — the queue implements backpressure, not best-effort
// delivery. Frames are delivered strictly in FIFO order.
//
// Safe for one producer and one consumer plus concurrent Depth/LastFrameAt
// readers.
type Queue struct {
	ch      chan audio.Frame
	timeout time.Duration
	metrics *observe.Metrics

	lastEnqueue atomic.Int64
}

// NewQueue creates a queue holding up to capacity frames, admitting with the
// given blocking timeout.
func NewQueue(capacity int, timeout time.Duration, metrics *observe.Metrics) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:      make(chan audio.Frame, capacity),
		timeout: timeout,
		metrics: metrics,
	}
}

// Enqueue admits f, blocking up to the admission timeout when the queue is
// full. Returns [ErrQueueFull] only after the timeout elapses; drops before
// that point must be zero.
func (q *Queue) Enqueue(ctx context.Context, f audio.Frame) error {
	select {
	case q.ch <- f:
	default:
		timer := time.NewTimer(q.timeout)
		defer timer.Stop()
		select {
		case q.ch <- f:
		case <-timer.C:
			return ErrQueueFull
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	q.lastEnqueue.Store(f.At.UnixNano())
	q.metrics.QueueDepth.Add(ctx, 1)
	return nil
}

// TryDequeue removes the oldest frame without blocking.
func (q *Queue) TryDequeue() (audio.Frame, bool) {
	select {
	case f := <-q.ch:
		q.metrics.QueueDepth.Add(context.Background(), -1)
		return f, true
	default:
		return audio.Frame{}, false
	}
}

// Depth returns the current number of queued frames.
func (q *Queue) Depth() int { return len(q.ch) }

// LastFrameAt returns when the most recent frame was admitted, or the zero
// time if none has been.
func (q *Queue) LastFrameAt() time.Time {
	ns := q.lastEnqueue.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Clear discards all queued frames. Used when a response is interrupted.
func (q *Queue) Clear() {
	for {
		select {
		case <-q.ch:
			q.metrics.QueueDepth.Add(context.Background(), -1)
		default:
			return
		}
	}
}
