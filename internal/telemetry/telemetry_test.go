package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, r *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumInt(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := agg.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("aggregation %T is not an int64 sum", agg)
	}
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(provider.Meter("test"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	m.RecordDecode(ctx, 10, 5*time.Millisecond)
	m.RecordDecode(ctx, 0, time.Millisecond)
	m.RecordDecode(ctx, 7, 2*time.Millisecond)
	m.RecordUtterance(ctx)
	m.RecordEndpoint(ctx, 2)
	m.RecordError(ctx, "NO_FRAMES_DECODED", "best_path")
	m.SessionStarted(ctx)
	m.SessionStarted(ctx)
	m.SessionEnded(ctx)

	got := collect(t, reader)
	if n := sumInt(t, got["livedecode.frames.decoded"]); n != 17 {
		t.Errorf("frames decoded = %d, want 17", n)
	}
	h, ok := got["livedecode.decode.duration"].(metricdata.Histogram[float64])
	if !ok || len(h.DataPoints) != 1 || h.DataPoints[0].Count != 2 {
		t.Errorf("decode duration = %+v", got["livedecode.decode.duration"])
	}
	if n := sumInt(t, got["livedecode.utterances"]); n != 1 {
		t.Errorf("utterances = %d, want 1", n)
	}
	if n := sumInt(t, got["livedecode.sessions.active"]); n != 1 {
		t.Errorf("active sessions = %d, want 1", n)
	}
	ep := got["livedecode.endpoints"].(metricdata.Sum[int64])
	if len(ep.DataPoints) != 1 {
		t.Fatalf("endpoint data points = %d", len(ep.DataPoints))
	}
	if v, ok := ep.DataPoints[0].Attributes.Value(attribute.Key("rule")); !ok || v.AsInt64() != 2 {
		t.Errorf("endpoint rule attribute = %v", v)
	}
}

func TestNop(t *testing.T) {
	m := Nop()
	m.RecordDecode(context.Background(), 3, time.Millisecond)
	m.RecordEndpoint(context.Background(), 1)
}
