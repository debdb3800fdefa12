package otel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics 基于 Prometheus 注册表的指标实现
//
// 指标名中的 "." 会被替换为 "_"。每个指标的标签集合由首次写入时的属性决定，
// 之后缺失的标签取空字符串，多余的属性被忽略。
type PrometheusMetrics struct {
	registry   *prometheus.Registry
	namespace  string
	counters   map[string]*promVec[*prometheus.CounterVec]
	histograms map[string]*promVec[*prometheus.HistogramVec]
	gauges     map[string]*promVec[*prometheus.GaugeVec]
	mu         sync.Mutex
}

type promVec[V any] struct {
	vec    V
	labels []string
}

// NewPrometheusMetrics 创建 Prometheus 指标，registry 为 nil 时新建独立注册表
func NewPrometheusMetrics(namespace string, registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &PrometheusMetrics{
		registry:   registry,
		namespace:  promName(namespace),
		counters:   make(map[string]*promVec[*prometheus.CounterVec]),
		histograms: make(map[string]*promVec[*prometheus.HistogramVec]),
		gauges:     make(map[string]*promVec[*prometheus.GaugeVec]),
	}
}

// Registry 返回底层注册表
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteToTextfile 以文本格式写出当前指标（供 node_exporter textfile collector 采集）
func (m *PrometheusMetrics) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("%w: %w", ErrExportFailed, err)
	}
	return nil
}

// Counter 返回或创建计数器
func (m *PrometheusMetrics) Counter(name string) Counter {
	return &promCounter{m: m, name: name}
}

// Histogram 返回或创建直方图
func (m *PrometheusMetrics) Histogram(name string) Histogram {
	return &promHistogram{m: m, name: name}
}

// Gauge 返回或创建仪表
func (m *PrometheusMetrics) Gauge(name string) Gauge {
	return &promGauge{m: m, name: name}
}

func (m *PrometheusMetrics) counterVec(name string, attrs []Attr) (*prometheus.CounterVec, prometheus.Labels) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.counters[name]
	if !ok {
		labels := labelNames(attrs)
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      promName(name) + "_total",
			Help:      helpFor(name),
		}, labels)
		m.register(vec)
		v = &promVec[*prometheus.CounterVec]{vec: vec, labels: labels}
		m.counters[name] = v
	}
	return v.vec, labelValues(v.labels, attrs)
}

func (m *PrometheusMetrics) histogramVec(name string, attrs []Attr) (*prometheus.HistogramVec, prometheus.Labels) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.histograms[name]
	if !ok {
		labels := labelNames(attrs)
		buckets := prometheus.DefBuckets
		if d, found := describe(name); found && d.Unit == UnitMilliseconds {
			buckets = prometheus.ExponentialBuckets(0.5, 2, 16)
		}
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      promName(name),
			Help:      helpFor(name),
			Buckets:   buckets,
		}, labels)
		m.register(vec)
		v = &promVec[*prometheus.HistogramVec]{vec: vec, labels: labels}
		m.histograms[name] = v
	}
	return v.vec, labelValues(v.labels, attrs)
}

func (m *PrometheusMetrics) gaugeVec(name string, attrs []Attr) (*prometheus.GaugeVec, prometheus.Labels) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.gauges[name]
	if !ok {
		labels := labelNames(attrs)
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      promName(name),
			Help:      helpFor(name),
		}, labels)
		m.register(vec)
		v = &promVec[*prometheus.GaugeVec]{vec: vec, labels: labels}
		m.gauges[name] = v
	}
	return v.vec, labelValues(v.labels, attrs)
}

// register 注册收集器，同名指标已注册时沿用（仅记录在本地缓存中）
func (m *PrometheusMetrics) register(c prometheus.Collector) {
	if err := m.registry.Register(c); err != nil {
		GetLogger().Warn("prometheus register failed", "error", err)
	}
}

type promCounter struct {
	m    *PrometheusMetrics
	name string
}

// Add 增加计数，负值会被忽略
func (c *promCounter) Add(ctx context.Context, value int64, attrs ...Attr) {
	if value < 0 {
		return
	}
	vec, labels := c.m.counterVec(c.name, attrs)
	vec.With(labels).Add(float64(value))
}

type promHistogram struct {
	m    *PrometheusMetrics
	name string
}

// Record 记录值
func (h *promHistogram) Record(ctx context.Context, value float64, attrs ...Attr) {
	vec, labels := h.m.histogramVec(h.name, attrs)
	vec.With(labels).Observe(value)
}

type promGauge struct {
	m    *PrometheusMetrics
	name string
}

// Set 设置值
func (g *promGauge) Set(ctx context.Context, value float64, attrs ...Attr) {
	vec, labels := g.m.gaugeVec(g.name, attrs)
	vec.With(labels).Set(value)
}

// promName 将任意指标名转换为合法的 Prometheus 名称
func promName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func labelNames(attrs []Attr) []string {
	seen := make(map[string]bool, len(attrs))
	names := make([]string, 0, len(attrs))
	for _, a := range attrs {
		n := promName(a.Key)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func labelValues(names []string, attrs []Attr) prometheus.Labels {
	labels := make(prometheus.Labels, len(names))
	for _, n := range names {
		labels[n] = ""
	}
	for _, a := range attrs {
		n := promName(a.Key)
		if _, ok := labels[n]; ok {
			labels[n] = fmt.Sprint(a.Value)
		}
	}
	return labels
}

func helpFor(name string) string {
	if d, ok := describe(name); ok {
		return d.Description
	}
	return name
}

var _ Metrics = (*PrometheusMetrics)(nil)
