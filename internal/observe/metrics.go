// Package observe provides the device's observability primitives:
// OpenTelemetry metrics, per-turn tracing, and structured-log helpers.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the /metrics endpoint. Tests should use [NewMetrics] with a
// custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all device metrics.
const meterName = "github.com/eyeb33/jellyberry-sub000"

// Drop reasons for the FrameDrops counter.
var (
	ReasonAdmissionTimeout = attribute.String("reason", "admission_timeout")
	ReasonStaleSequence    = attribute.String("reason", "stale_sequence")
	ReasonInterrupted      = attribute.String("reason", "interrupted")
	ReasonSinkWrite        = attribute.String("reason", "sink_write")
)

// Metrics holds all OpenTelemetry metric instruments for the device core.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// FramesCaptured counts microphone frames forwarded while recording.
	FramesCaptured metric.Int64Counter

	// FramesPlayed counts frames written to the hardware sink.
	FramesPlayed metric.Int64Counter

	// FrameDrops counts frames discarded anywhere in the pipeline. Use with
	// one of the Reason* attributes.
	FrameDrops metric.Int64Counter

	// Reconnects counts completed session reconnections.
	Reconnects metric.Int64Counter

	// SendFailures counts failed outbound socket writes.
	SendFailures metric.Int64Counter

	// Turns counts completed conversation turns.
	Turns metric.Int64Counter

	// QueueDepth tracks the playback queue depth in frames.
	QueueDepth metric.Int64UpDownCounter

	// TurnDuration tracks wall time from recording start to playback finish.
	TurnDuration metric.Float64Histogram

	// EnqueueWait tracks how long the network receiver blocked on queue
	// admission. Sustained values near the admission timeout indicate the
	// sink cannot keep up.
	EnqueueWait metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// audio-pipeline and turn latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("jellyberry.audio.frames_captured",
		metric.WithDescription("Microphone frames forwarded while recording."),
	); err != nil {
		return nil, err
	}
	if met.FramesPlayed, err = m.Int64Counter("jellyberry.audio.frames_played",
		metric.WithDescription("Frames written to the hardware sink."),
	); err != nil {
		return nil, err
	}
	if met.FrameDrops, err = m.Int64Counter("jellyberry.audio.frame_drops",
		metric.WithDescription("Frames discarded, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("jellyberry.session.reconnects",
		metric.WithDescription("Completed session reconnections."),
	); err != nil {
		return nil, err
	}
	if met.SendFailures, err = m.Int64Counter("jellyberry.session.send_failures",
		metric.WithDescription("Failed outbound socket writes."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("jellyberry.turns",
		metric.WithDescription("Completed conversation turns."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("jellyberry.playback.queue_depth",
		metric.WithDescription("Playback queue depth in frames."),
		metric.WithUnit("{frame}"),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("jellyberry.turn.duration",
		metric.WithDescription("Wall time from recording start to playback finish."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EnqueueWait, err = m.Float64Histogram("jellyberry.playback.enqueue_wait",
		metric.WithDescription("Time the network receiver blocked on queue admission."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1),
	); err != nil {
		return nil, err
	}

	return met, nil
}
