package otel

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// SDKMetrics 基于 OpenTelemetry SDK MeterProvider 的指标实现
type SDKMetrics struct {
	meter      metric.Meter
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64Gauge
	mu         sync.Mutex
}

// NewSDKMetrics 从 MeterProvider 创建指标实现
func NewSDKMetrics(mp metric.MeterProvider, scope string) *SDKMetrics {
	return &SDKMetrics{
		meter:      mp.Meter(scope),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

// NewMeterProvider 创建带周期导出的 MeterProvider
func NewMeterProvider(ctx context.Context, cfg MetricsConfig, opts ...sdkmetric.Option) (*sdkmetric.MeterProvider, error) {
	exp, err := NewMetricExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}
	reader := sdkmetric.NewPeriodicReader(exp, readerOpts...)
	opts = append(opts, sdkmetric.WithReader(reader))
	return sdkmetric.NewMeterProvider(opts...), nil
}

// Counter 返回或创建计数器
func (m *SDKMetrics) Counter(name string) Counter {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[name]
	if !ok {
		d := descriptionOf(name)
		var err error
		c, err = m.meter.Int64Counter(name,
			metric.WithDescription(d.Description), metric.WithUnit(string(d.Unit)))
		if err != nil {
			return &NoopCounter{}
		}
		m.counters[name] = c
	}
	return &sdkCounter{c: c}
}

// Histogram 返回或创建直方图
func (m *SDKMetrics) Histogram(name string) Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.histograms[name]
	if !ok {
		d := descriptionOf(name)
		var err error
		h, err = m.meter.Float64Histogram(name,
			metric.WithDescription(d.Description), metric.WithUnit(string(d.Unit)))
		if err != nil {
			return &NoopHistogram{}
		}
		m.histograms[name] = h
	}
	return &sdkHistogram{h: h}
}

// Gauge 返回或创建仪表
func (m *SDKMetrics) Gauge(name string) Gauge {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.gauges[name]
	if !ok {
		d := descriptionOf(name)
		var err error
		g, err = m.meter.Float64Gauge(name,
			metric.WithDescription(d.Description), metric.WithUnit(string(d.Unit)))
		if err != nil {
			return &NoopGauge{}
		}
		m.gauges[name] = g
	}
	return &sdkGauge{g: g}
}

type sdkCounter struct{ c metric.Int64Counter }

func (c *sdkCounter) Add(ctx context.Context, value int64, attrs ...Attr) {
	c.c.Add(ctx, value, metric.WithAttributes(toKeyValues(attrs)...))
}

type sdkHistogram struct{ h metric.Float64Histogram }

func (h *sdkHistogram) Record(ctx context.Context, value float64, attrs ...Attr) {
	h.h.Record(ctx, value, metric.WithAttributes(toKeyValues(attrs)...))
}

type sdkGauge struct{ g metric.Float64Gauge }

func (g *sdkGauge) Set(ctx context.Context, value float64, attrs ...Attr) {
	g.g.Record(ctx, value, metric.WithAttributes(toKeyValues(attrs)...))
}

func descriptionOf(name string) MetricDescription {
	if d, ok := describe(name); ok {
		return d
	}
	return MetricDescription{Name: name}
}

// toKeyValues 将指标属性转换为 OTel 属性
func toKeyValues(attrs []Attr) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		switch v := a.Value.(type) {
		case string:
			kvs = append(kvs, attribute.String(a.Key, v))
		case bool:
			kvs = append(kvs, attribute.Bool(a.Key, v))
		case int:
			kvs = append(kvs, attribute.Int(a.Key, v))
		case int64:
			kvs = append(kvs, attribute.Int64(a.Key, v))
		case float64:
			kvs = append(kvs, attribute.Float64(a.Key, v))
		case fmt.Stringer:
			kvs = append(kvs, attribute.String(a.Key, v.String()))
		default:
			kvs = append(kvs, attribute.String(a.Key, fmt.Sprint(v)))
		}
	}
	return kvs
}

var _ Metrics = (*SDKMetrics)(nil)
