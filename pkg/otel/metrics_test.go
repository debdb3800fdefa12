package otel_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/easyops/contextbudget/pkg/otel"
)

func TestInMemoryMetrics_Counter(t *testing.T) {
	metrics := otel.NewInMemoryMetrics()
	ctx := context.Background()

	metrics.Counter(otel.MetricContextAssemblies).Add(ctx, 5)
	metrics.Counter(otel.MetricContextAssemblies).Add(ctx, 3, otel.NewAttr(otel.AttrContextMode, "advanced"))

	if got := metrics.GetCounterValue(otel.MetricContextAssemblies); got != 8 {
		t.Fatalf("GetCounterValue() = %d, want 8", got)
	}
	if got := metrics.GetCounterValue("missing"); got != 0 {
		t.Fatalf("GetCounterValue(missing) = %d, want 0", got)
	}
}

func TestInMemoryMetrics_LabeledSeries(t *testing.T) {
	metrics := otel.NewInMemoryMetrics()
	ctx := context.Background()
	counter := metrics.Counter(otel.MetricContextCompressions)

	counter.Add(ctx, 2, otel.NewAttr(otel.AttrContextCategory, "history"), otel.NewAttr(otel.AttrContextStrategy, "summarize"))
	counter.Add(ctx, 1, otel.NewAttr(otel.AttrContextStrategy, "summarize"), otel.NewAttr(otel.AttrContextCategory, "history"))
	counter.Add(ctx, 4, otel.NewAttr(otel.AttrContextCategory, "examples"), otel.NewAttr(otel.AttrContextStrategy, "truncate"))

	tests := []struct {
		name  string
		attrs []otel.Attr
		want  int64
	}{
		{"all series", nil, 7},
		{"by category", []otel.Attr{otel.NewAttr(otel.AttrContextCategory, "history")}, 3},
		{"by strategy", []otel.Attr{otel.NewAttr(otel.AttrContextStrategy, "truncate")}, 4},
		{"both attrs", []otel.Attr{
			otel.NewAttr(otel.AttrContextCategory, "examples"),
			otel.NewAttr(otel.AttrContextStrategy, "truncate"),
		}, 4},
		{"no match", []otel.Attr{otel.NewAttr(otel.AttrContextCategory, "media")}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := metrics.GetCounterValue(otel.MetricContextCompressions, tt.attrs...); got != tt.want {
				t.Errorf("GetCounterValue(%v) = %d, want %d", tt.attrs, got, tt.want)
			}
		})
	}

	metrics.Gauge(otel.MetricContextQuality).Set(ctx, 0.5, otel.NewAttr(otel.AttrContextMode, "basic"))
	metrics.Gauge(otel.MetricContextQuality).Set(ctx, 0.9, otel.NewAttr(otel.AttrContextMode, "advanced"))
	if got := metrics.GetGaugeValue(otel.MetricContextQuality, otel.NewAttr(otel.AttrContextMode, "basic")); got != 0.5 {
		t.Errorf("GetGaugeValue(basic) = %v, want 0.5", got)
	}
}

func TestInMemoryMetrics_HistogramAndGauge(t *testing.T) {
	metrics := otel.NewInMemoryMetrics()
	ctx := context.Background()

	h := metrics.Histogram(otel.MetricContextAssemblyDuration)
	h.Record(ctx, 1.5)
	h.Record(ctx, 2.5)
	if got := metrics.GetHistogramValues(otel.MetricContextAssemblyDuration); len(got) != 2 || got[1] != 2.5 {
		t.Fatalf("GetHistogramValues() = %v, want [1.5 2.5]", got)
	}

	g := metrics.Gauge(otel.MetricContextQuality)
	g.Set(ctx, 0.4)
	g.Set(ctx, 0.8)
	if got := metrics.GetGaugeValue(otel.MetricContextQuality); got != 0.8 {
		t.Fatalf("GetGaugeValue() = %f, want 0.8", got)
	}
}

func TestInMemoryMetrics_ConcurrentAccess(t *testing.T) {
	metrics := otel.NewInMemoryMetrics()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.Counter(otel.MetricContextCompressions).Add(ctx, 2)
		}()
	}
	wg.Wait()

	if got := metrics.GetCounterValue(otel.MetricContextCompressions); got != 100 {
		t.Fatalf("GetCounterValue() = %d, want 100", got)
	}
}

func TestNoopMetrics(t *testing.T) {
	metrics := otel.NewNoopMetrics()
	ctx := context.Background()

	// 不应 panic
	metrics.Counter("c").Add(ctx, 1)
	metrics.Histogram("h").Record(ctx, 1)
	metrics.Gauge("g").Set(ctx, 1)
}

func TestPrometheusMetrics(t *testing.T) {
	metrics := otel.NewPrometheusMetrics("contextbudget", nil)
	ctx := context.Background()

	metrics.Counter(otel.MetricContextAssemblies).Add(ctx, 2, otel.NewAttr(otel.AttrContextMode, "advanced"))
	metrics.Counter(otel.MetricContextAssemblies).Add(ctx, 1, otel.NewAttr(otel.AttrContextMode, "basic"))
	metrics.Counter(otel.MetricContextAssemblies).Add(ctx, -4) // 负值被忽略
	metrics.Histogram(otel.MetricContextAssemblyDuration).Record(ctx, 12)
	metrics.Gauge(otel.MetricContextQuality).Set(ctx, 0.75)

	families, err := metrics.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	byName := make(map[string]float64)
	series := make(map[string]int)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			series[mf.GetName()]++
			switch {
			case m.GetCounter() != nil:
				byName[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				byName[mf.GetName()] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				byName[mf.GetName()] += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}

	if got := byName["contextbudget_context_assemblies_total"]; got != 3 {
		t.Errorf("assemblies = %v, want 3", got)
	}
	if got := series["contextbudget_context_assemblies_total"]; got != 2 {
		t.Errorf("assemblies series = %d, want 2", got)
	}
	if got := byName["contextbudget_context_assembly_duration"]; got != 1 {
		t.Errorf("duration samples = %v, want 1", got)
	}
	if got := byName["contextbudget_context_quality"]; got != 0.75 {
		t.Errorf("quality = %v, want 0.75", got)
	}
}

func TestPrometheusMetrics_WriteToTextfile(t *testing.T) {
	metrics := otel.NewPrometheusMetrics("", nil)
	metrics.Counter(otel.MetricContextDegradations).Add(context.Background(), 1,
		otel.NewAttr(otel.AttrContextDegradation, "tokenizer_unavailable"))

	path := filepath.Join(t.TempDir(), "ctx.prom")
	if err := metrics.WriteToTextfile(path); err != nil {
		t.Fatalf("WriteToTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `context_degradations_total{context_degradation="tokenizer_unavailable"} 1`) {
		t.Fatalf("unexpected textfile content:\n%s", data)
	}
}

func TestPrometheusMetrics_WriteToTextfile_BadPath(t *testing.T) {
	metrics := otel.NewPrometheusMetrics("", nil)
	metrics.Counter(otel.MetricContextAssemblies).Add(context.Background(), 1)

	path := filepath.Join(t.TempDir(), "missing", "ctx.prom")
	if err := metrics.WriteToTextfile(path); !errors.Is(err, otel.ErrExportFailed) {
		t.Errorf("WriteToTextfile() error = %v, want %v", err, otel.ErrExportFailed)
	}
}

func TestSDKMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	metrics := otel.NewSDKMetrics(mp, "contextbudget")
	ctx := context.Background()
	metrics.Counter(otel.MetricContextTokensTotal).Add(ctx, 120, otel.NewAttr(otel.AttrContextRequestType, "creation"))
	metrics.Counter(otel.MetricContextTokensTotal).Add(ctx, 30, otel.NewAttr(otel.AttrContextRequestType, "creation"))
	metrics.Gauge(otel.MetricContextQuality).Set(ctx, 0.5)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	var tokens int64
	var quality float64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if m.Name == otel.MetricContextTokensTotal {
					for _, dp := range data.DataPoints {
						tokens += dp.Value
					}
				}
			case metricdata.Gauge[float64]:
				if m.Name == otel.MetricContextQuality && len(data.DataPoints) > 0 {
					quality = data.DataPoints[0].Value
				}
			}
		}
	}
	if tokens != 150 {
		t.Errorf("tokens = %d, want 150", tokens)
	}
	if quality != 0.5 {
		t.Errorf("quality = %v, want 0.5", quality)
	}
}
