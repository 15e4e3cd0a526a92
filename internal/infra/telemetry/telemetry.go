package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ScopeName 是 findsig 注册 meter 时使用的 instrumentation scope。
const ScopeName = "github.com/John-Robertt/findsig"

const (
	MetricDiscovered = "findsig.files.discovered"
	MetricScanned    = "findsig.files.scanned"
	MetricInfected   = "findsig.files.infected"
	MetricFailed     = "findsig.files.failed"
	MetricBytesRead  = "findsig.bytes.read"
	MetricDuration   = "findsig.scan.duration"
)

// Metrics 汇集一次扫描用到的全部 instrument。所有方法并发安全。
type Metrics struct {
	discovered metric.Int64Counter
	scanned    metric.Int64Counter
	infected   metric.Int64Counter
	failed     metric.Int64Counter
	bytesRead  metric.Int64Counter
	duration   metric.Float64Histogram
}

// New 在给定 meter 上注册 instrument。
func New(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.discovered, err = meter.Int64Counter(MetricDiscovered,
		metric.WithDescription("ELF 候选文件数（已提交到任务队列）")); err != nil {
		return nil, fmt.Errorf("注册 %s 失败：%w", MetricDiscovered, err)
	}
	if m.scanned, err = meter.Int64Counter(MetricScanned,
		metric.WithDescription("完成扫描的文件数")); err != nil {
		return nil, fmt.Errorf("注册 %s 失败：%w", MetricScanned, err)
	}
	if m.infected, err = meter.Int64Counter(MetricInfected,
		metric.WithDescription("包含特征串的文件数")); err != nil {
		return nil, fmt.Errorf("注册 %s 失败：%w", MetricInfected, err)
	}
	if m.failed, err = meter.Int64Counter(MetricFailed,
		metric.WithDescription("扫描失败的文件数")); err != nil {
		return nil, fmt.Errorf("注册 %s 失败：%w", MetricFailed, err)
	}
	if m.bytesRead, err = meter.Int64Counter(MetricBytesRead,
		metric.WithDescription("匹配器读取的字节数"), metric.WithUnit("By")); err != nil {
		return nil, fmt.Errorf("注册 %s 失败：%w", MetricBytesRead, err)
	}
	if m.duration, err = meter.Float64Histogram(MetricDuration,
		metric.WithDescription("单个文件的扫描耗时"), metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("注册 %s 失败：%w", MetricDuration, err)
	}
	return &m, nil
}

// Global 使用全局 MeterProvider。未安装 SDK 时所有记录都是 no-op。
func Global() (*Metrics, error) {
	return New(otel.Meter(ScopeName))
}

// Discovered 记录一个提交到队列的候选文件。
func (m *Metrics) Discovered() {
	m.discovered.Add(context.Background(), 1)
}

// Scanned 记录一个完成扫描的文件。infected 决定 verdict 属性。
func (m *Metrics) Scanned(bytes int64, d time.Duration, infected bool) {
	ctx := context.Background()
	verdict := "clean"
	if infected {
		verdict = "infected"
		m.infected.Add(ctx, 1)
	}
	m.scanned.Add(ctx, 1)
	m.bytesRead.Add(ctx, bytes)
	m.duration.Record(ctx, float64(d)/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("verdict", verdict)))
}

// Failed 记录一个失败文件；stage 为 classify|scan|panic。
func (m *Metrics) Failed(stage string, bytes int64) {
	ctx := context.Background()
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	if bytes > 0 {
		m.bytesRead.Add(ctx, bytes)
	}
}
