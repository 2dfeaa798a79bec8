package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestNewMetricsCreatesAllInstruments(t *testing.T) {
	m, _ := newTestMetrics(t)

	if m.CaptureDuration == nil || m.STTDuration == nil || m.LLMDuration == nil ||
		m.TTSFirstChunk == nil || m.PlaybackDuration == nil {
		t.Error("one or more histograms are nil")
	}
	if m.Turns == nil || m.PlaybackUnderruns == nil || m.Alerts == nil ||
		m.NetworkTransitions == nil || m.BackendErrors == nil {
		t.Error("one or more counters are nil")
	}
}

func TestRecordTurn(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "ok")
	m.RecordTurn(ctx, "ok")
	m.RecordTurn(ctx, "no_speech")

	rm := collect(t, reader)
	metric, ok := findMetric(rm, "murmel.turns")
	if !ok {
		t.Fatal("murmel.turns not found")
	}
	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("murmel.turns data type = %T, want Sum[int64]", metric.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("total turns = %d, want 3", total)
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("distinct outcome series = %d, want 2", len(sum.DataPoints))
	}
}

func TestRecordAlertAndNetworkTransition(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAlert(ctx, "stt_slow")
	m.RecordNetworkTransition(ctx, "offline")
	m.RecordNetworkTransition(ctx, "online")

	rm := collect(t, reader)
	if _, ok := findMetric(rm, "murmel.alerts"); !ok {
		t.Error("murmel.alerts not found")
	}
	metric, ok := findMetric(rm, "murmel.network.transitions")
	if !ok {
		t.Fatal("murmel.network.transitions not found")
	}
	sum := metric.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 2 {
		t.Errorf("transition series = %d, want 2 (offline and online)", len(sum.DataPoints))
	}
}

func TestHistogramRecords(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.STTDuration.Record(context.Background(), 0.42)

	rm := collect(t, reader)
	metric, ok := findMetric(rm, "murmel.stt.duration")
	if !ok {
		t.Fatal("murmel.stt.duration not found")
	}
	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type = %T, want Histogram[float64]", metric.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("histogram datapoints = %+v, want one point with count 1", hist.DataPoints)
	}
}

func TestDefaultMetricsReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}
