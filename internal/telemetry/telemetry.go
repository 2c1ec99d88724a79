// Package telemetry holds the OpenTelemetry instruments recorded by decode
// sessions and the streaming server.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MeterName is the instrumentation scope of the instruments.
const MeterName = "github.com/ieee0824/livedecode-go"

// Metrics holds the instruments. The zero value is not usable; use New or
// Nop.
type Metrics struct {
	framesDecoded  metric.Int64Counter
	decodeDuration metric.Float64Histogram
	utterances     metric.Int64Counter
	endpoints      metric.Int64Counter
	errors         metric.Int64Counter
	activeSessions metric.Int64UpDownCounter
}

// New creates the instruments on meter.
func New(meter metric.Meter) (*Metrics, error) {
	framesDecoded, err := meter.Int64Counter("livedecode.frames.decoded",
		metric.WithDescription("Feature frames consumed by the search"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating livedecode.frames.decoded counter: %w", err)
	}

	decodeDuration, err := meter.Float64Histogram("livedecode.decode.duration",
		metric.WithDescription("Duration of Decode calls that consumed frames"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating livedecode.decode.duration histogram: %w", err)
	}

	utterances, err := meter.Int64Counter("livedecode.utterances",
		metric.WithDescription("Finalized utterances"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating livedecode.utterances counter: %w", err)
	}

	endpoints, err := meter.Int64Counter("livedecode.endpoints",
		metric.WithDescription("Endpoints detected, by rule"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating livedecode.endpoints counter: %w", err)
	}

	errs, err := meter.Int64Counter("livedecode.errors",
		metric.WithDescription("Errors by kind and operation"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating livedecode.errors counter: %w", err)
	}

	active, err := meter.Int64UpDownCounter("livedecode.sessions.active",
		metric.WithDescription("Streaming sessions currently open"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating livedecode.sessions.active counter: %w", err)
	}

	return &Metrics{
		framesDecoded:  framesDecoded,
		decodeDuration: decodeDuration,
		utterances:     utterances,
		endpoints:      endpoints,
		errors:         errs,
		activeSessions: active,
	}, nil
}

// Nop returns instruments that record nothing.
func Nop() *Metrics {
	m, _ := New(noop.NewMeterProvider().Meter(MeterName))
	return m
}

// RecordDecode records one Decode call that consumed frames.
func (m *Metrics) RecordDecode(ctx context.Context, frames int, d time.Duration) {
	if frames <= 0 {
		return
	}
	m.framesDecoded.Add(ctx, int64(frames))
	m.decodeDuration.Record(ctx, d.Seconds())
}

// RecordUtterance counts a finalized utterance.
func (m *Metrics) RecordUtterance(ctx context.Context) {
	m.utterances.Add(ctx, 1)
}

// RecordEndpoint counts an endpoint detected by rule.
func (m *Metrics) RecordEndpoint(ctx context.Context, rule int) {
	m.endpoints.Add(ctx, 1, metric.WithAttributes(attribute.Int("rule", rule)))
}

// RecordError counts an error of kind in op.
func (m *Metrics) RecordError(ctx context.Context, kind, op string) {
	m.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("op", op),
	))
}

// SessionStarted and SessionEnded track open streaming sessions.
func (m *Metrics) SessionStarted(ctx context.Context) { m.activeSessions.Add(ctx, 1) }

func (m *Metrics) SessionEnded(ctx context.Context) { m.activeSessions.Add(ctx, -1) }
