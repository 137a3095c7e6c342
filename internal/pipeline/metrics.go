package pipeline

import (
	"context"
	"time"

	"github.com/loqalabs/loqa-relay/internal/fault"
	"github.com/loqalabs/loqa-relay/internal/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type relayMetrics struct {
	requests      metric.Int64Counter
	stageDuration metric.Float64Histogram
	audioDuration metric.Float64Histogram
}

func newRelayMetrics(meter metric.Meter) (*relayMetrics, error) {
	requests, err := meter.Int64Counter("loqa.relay.requests",
		metric.WithDescription("Voice chat exchanges by outcome"))
	if err != nil {
		return nil, err
	}
	stageDuration, err := meter.Float64Histogram("loqa.relay.stage.duration",
		metric.WithDescription("Pipeline stage latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	audioDuration, err := meter.Float64Histogram("loqa.relay.audio.duration",
		metric.WithDescription("Playback length of uploaded and synthesized audio"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &relayMetrics{requests: requests, stageDuration: stageDuration, audioDuration: audioDuration}, nil
}

func (m *relayMetrics) recordExchange(ctx context.Context, event protocol.ExchangeEvent) {
	kind := event.ErrorKind
	if kind == "" {
		kind = "none"
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", event.Status),
		attribute.String("kind", kind),
	))
}

func (m *relayMetrics) recordStage(ctx context.Context, stage fault.Stage, elapsed time.Duration, ok bool) {
	m.stageDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.Bool("ok", ok),
	))
}

func (m *relayMetrics) recordAudio(ctx context.Context, direction string, d time.Duration) {
	m.audioDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("direction", direction)))
}
