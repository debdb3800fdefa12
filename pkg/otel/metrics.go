package otel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Metrics 定义指标接口
type Metrics interface {
	// Counter 返回或创建计数器
	Counter(name string) Counter
	// Histogram 返回或创建直方图
	Histogram(name string) Histogram
	// Gauge 返回或创建仪表
	Gauge(name string) Gauge
}

// Counter 计数器接口
type Counter interface {
	// Add 增加计数
	Add(ctx context.Context, value int64, attrs ...Attr)
}

// Histogram 直方图接口
type Histogram interface {
	// Record 记录值
	Record(ctx context.Context, value float64, attrs ...Attr)
}

// Gauge 仪表接口
type Gauge interface {
	// Set 设置值
	Set(ctx context.Context, value float64, attrs ...Attr)
}

// Attr 指标属性
type Attr struct {
	Key   string
	Value interface{}
}

// NewAttr 创建指标属性
func NewAttr(key string, value interface{}) Attr {
	return Attr{Key: key, Value: value}
}

// InMemoryMetrics 内存指标实现，按属性组合分别记录序列。
//
// 一次性命令和测试读取它；查询时不带属性返回全部序列的合计。
type InMemoryMetrics struct {
	counters   map[string]map[string]*counterSeries
	histograms map[string]map[string]*histogramSeries
	gauges     map[string]map[string]*gaugeSeries
	mu         sync.RWMutex
}

type counterSeries struct {
	attrs []Attr
	value int64
}

type histogramSeries struct {
	attrs  []Attr
	values []float64
}

type gaugeSeries struct {
	attrs []Attr
	value float64
}

// NewInMemoryMetrics 创建内存指标
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters:   make(map[string]map[string]*counterSeries),
		histograms: make(map[string]map[string]*histogramSeries),
		gauges:     make(map[string]map[string]*gaugeSeries),
	}
}

// Counter 返回计数器
func (m *InMemoryMetrics) Counter(name string) Counter {
	return &memCounter{metrics: m, name: name}
}

// Histogram 返回直方图
func (m *InMemoryMetrics) Histogram(name string) Histogram {
	return &memHistogram{metrics: m, name: name}
}

// Gauge 返回仪表
func (m *InMemoryMetrics) Gauge(name string) Gauge {
	return &memGauge{metrics: m, name: name}
}

// GetCounterValue 返回与 attrs 全部匹配的序列之和
func (m *InMemoryMetrics) GetCounterValue(name string, attrs ...Attr) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, s := range m.counters[name] {
		if matchAttrs(s.attrs, attrs) {
			total += s.value
		}
	}
	return total
}

// GetHistogramValues 返回与 attrs 匹配的全部记录值，序列间无固定顺序
func (m *InMemoryMetrics) GetHistogramValues(name string, attrs ...Attr) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var values []float64
	for _, s := range m.histograms[name] {
		if matchAttrs(s.attrs, attrs) {
			values = append(values, s.values...)
		}
	}
	return values
}

// GetGaugeValue 返回与 attrs 匹配的第一个序列的值
func (m *InMemoryMetrics) GetGaugeValue(name string, attrs ...Attr) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.gauges[name] {
		if matchAttrs(s.attrs, attrs) {
			return s.value
		}
	}
	return 0
}

type memCounter struct {
	metrics *InMemoryMetrics
	name    string
}

func (c *memCounter) Add(_ context.Context, value int64, attrs ...Attr) {
	m := c.metrics
	m.mu.Lock()
	defer m.mu.Unlock()

	key := seriesKey(attrs)
	series, ok := m.counters[c.name]
	if !ok {
		series = make(map[string]*counterSeries)
		m.counters[c.name] = series
	}
	s, ok := series[key]
	if !ok {
		s = &counterSeries{attrs: cloneAttrs(attrs)}
		series[key] = s
	}
	s.value += value
}

type memHistogram struct {
	metrics *InMemoryMetrics
	name    string
}

func (h *memHistogram) Record(_ context.Context, value float64, attrs ...Attr) {
	m := h.metrics
	m.mu.Lock()
	defer m.mu.Unlock()

	key := seriesKey(attrs)
	series, ok := m.histograms[h.name]
	if !ok {
		series = make(map[string]*histogramSeries)
		m.histograms[h.name] = series
	}
	s, ok := series[key]
	if !ok {
		s = &histogramSeries{attrs: cloneAttrs(attrs)}
		series[key] = s
	}
	s.values = append(s.values, value)
}

type memGauge struct {
	metrics *InMemoryMetrics
	name    string
}

func (g *memGauge) Set(_ context.Context, value float64, attrs ...Attr) {
	m := g.metrics
	m.mu.Lock()
	defer m.mu.Unlock()

	key := seriesKey(attrs)
	series, ok := m.gauges[g.name]
	if !ok {
		series = make(map[string]*gaugeSeries)
		m.gauges[g.name] = series
	}
	s, ok := series[key]
	if !ok {
		s = &gaugeSeries{attrs: cloneAttrs(attrs)}
		series[key] = s
	}
	s.value = value
}

// seriesKey 按键排序后拼接属性，属性顺序不影响序列归属
func seriesKey(attrs []Attr) string {
	if len(attrs) == 0 {
		return ""
	}
	sorted := cloneAttrs(attrs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var b strings.Builder
	for _, a := range sorted {
		fmt.Fprintf(&b, "%s=%v;", a.Key, a.Value)
	}
	return b.String()
}

func cloneAttrs(attrs []Attr) []Attr {
	out := make([]Attr, len(attrs))
	copy(out, attrs)
	return out
}

// matchAttrs 判断序列属性是否包含全部过滤条件
func matchAttrs(have, want []Attr) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h.Key == w.Key && fmt.Sprint(h.Value) == fmt.Sprint(w.Value) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// NoopMetrics 空实现指标
type NoopMetrics struct{}

// NewNoopMetrics 创建空实现指标
func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (m *NoopMetrics) Counter(name string) Counter     { return &NoopCounter{} }
func (m *NoopMetrics) Histogram(name string) Histogram { return &NoopHistogram{} }
func (m *NoopMetrics) Gauge(name string) Gauge         { return &NoopGauge{} }

type NoopCounter struct{}

func (c *NoopCounter) Add(ctx context.Context, value int64, attrs ...Attr) {}

type NoopHistogram struct{}

func (h *NoopHistogram) Record(ctx context.Context, value float64, attrs ...Attr) {}

type NoopGauge struct{}

func (g *NoopGauge) Set(ctx context.Context, value float64, attrs ...Attr) {}

// compile-time interface check
var _ Metrics = (*InMemoryMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
var _ Counter = (*memCounter)(nil)
var _ Histogram = (*memHistogram)(nil)
var _ Gauge = (*memGauge)(nil)
