package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics groups the instruments recorded by the pipeline. A nil *Metrics
// discards every measurement.
type Metrics struct {
	chunks        metric.Int64Counter
	audioBytes    metric.Int64Counter
	segments      metric.Int64Counter
	runs          metric.Int64Counter
	stageDuration metric.Float64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	chunks, err := meter.Int64Counter("vidscribe.transcribe.chunks",
		metric.WithDescription("PCM chunks fed to the recognizer"))
	if err != nil {
		return nil, err
	}
	audioBytes, err := meter.Int64Counter("vidscribe.transcribe.audio_bytes",
		metric.WithDescription("PCM bytes fed to the recognizer"), metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	segments, err := meter.Int64Counter("vidscribe.transcribe.segments",
		metric.WithDescription("Transcript fragments produced"))
	if err != nil {
		return nil, err
	}
	runs, err := meter.Int64Counter("vidscribe.pipeline.runs",
		metric.WithDescription("Pipeline runs by outcome"))
	if err != nil {
		return nil, err
	}
	stageDuration, err := meter.Float64Histogram("vidscribe.stage.duration",
		metric.WithDescription("Stage wall time"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		chunks:        chunks,
		audioBytes:    audioBytes,
		segments:      segments,
		runs:          runs,
		stageDuration: stageDuration,
	}, nil
}

func (m *Metrics) RecordChunk(ctx context.Context, size int) {
	if m == nil {
		return
	}
	m.chunks.Add(ctx, 1)
	m.audioBytes.Add(ctx, int64(size))
}

func (m *Metrics) RecordSegment(ctx context.Context, final bool) {
	if m == nil {
		return
	}
	m.segments.Add(ctx, 1, metric.WithAttributes(attribute.Bool("final", final)))
}

func (m *Metrics) RecordStage(ctx context.Context, stage string, elapsed time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.stageDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.Bool("ok", ok),
	))
}

func (m *Metrics) RecordRun(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
