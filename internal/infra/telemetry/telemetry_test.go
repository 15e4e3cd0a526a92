package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := New(mp.Meter(ScopeName))
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			out[md.Name] = md.Data
		}
	}
	return out
}

func sumInt64(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok, "期望 Sum[int64]，实际 %T", agg)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_Counters(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.Discovered()
	m.Discovered()
	m.Discovered()
	m.Scanned(100, 2*time.Millisecond, false)
	m.Scanned(50, time.Millisecond, true)
	m.Failed("scan", 7)
	m.Failed("classify", 0)

	got := collect(t, reader)
	require.Equal(t, int64(3), sumInt64(t, got[MetricDiscovered]))
	require.Equal(t, int64(2), sumInt64(t, got[MetricScanned]))
	require.Equal(t, int64(1), sumInt64(t, got[MetricInfected]))
	require.Equal(t, int64(2), sumInt64(t, got[MetricFailed]))
	require.Equal(t, int64(157), sumInt64(t, got[MetricBytesRead]))

	hist, ok := got[MetricDuration].(metricdata.Histogram[float64])
	require.True(t, ok, "期望 Histogram[float64]，实际 %T", got[MetricDuration])
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	require.Equal(t, uint64(2), count)
	require.Len(t, hist.DataPoints, 2, "clean 与 infected 应是两个不同的属性集")
}

func TestMetrics_FailedByStage(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.Failed("scan", 0)
	m.Failed("panic", 0)
	m.Failed("scan", 0)

	sum := collect(t, reader)[MetricFailed].(metricdata.Sum[int64])
	byStage := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value("stage")
		byStage[v.AsString()] = dp.Value
	}
	require.Equal(t, map[string]int64{"scan": 2, "panic": 1}, byStage)
}

func TestGlobal_NoopDoesNotPanic(t *testing.T) {
	m, err := Global()
	require.NoError(t, err)
	m.Discovered()
	m.Scanned(1, time.Millisecond, true)
	m.Failed("scan", 1)
}
