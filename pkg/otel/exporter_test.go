package otel_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/easyops/contextbudget/pkg/otel"
)

func TestNewTraceExporter(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		exporter otel.ExporterType
		wantNil  bool
		wantErr  error
	}{
		{"stdout", otel.ExporterStdout, false, nil},
		{"otlp http", otel.ExporterOTLPHTTP, false, nil},
		{"none", otel.ExporterNone, true, nil},
		{"unsupported", "zipkin", true, otel.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := otel.DefaultConfig().Tracing
			cfg.Exporter = tt.exporter

			exp, err := otel.NewTraceExporter(ctx, cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("NewTraceExporter() error = %v, want %v", err, tt.wantErr)
			}
			if (exp == nil) != tt.wantNil {
				t.Errorf("NewTraceExporter() = %v, want nil %v", exp, tt.wantNil)
			}
			if exp != nil {
				_ = exp.Shutdown(ctx)
			}
		})
	}
}

func TestNewMetricExporter(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		exporter otel.ExporterType
		wantErr  error
	}{
		{"stdout", otel.ExporterStdout, nil},
		{"otlp http", otel.ExporterOTLPHTTP, nil},
		{"none", otel.ExporterNone, otel.ErrInvalidConfig},
		{"unsupported", "statsd", otel.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := otel.DefaultConfig().Metrics
			cfg.Exporter = tt.exporter
			cfg.Compression = "gzip"
			cfg.Headers = map[string]string{"x-tenant": "docs"}

			exp, err := otel.NewMetricExporter(ctx, cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("NewMetricExporter() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil {
				if exp == nil {
					t.Fatal("NewMetricExporter() returned nil exporter")
				}
				_ = exp.Shutdown(ctx)
			}
		})
	}
}

func TestNewProvider_TracingWithoutExporter(t *testing.T) {
	cfg := otel.DefaultConfig()
	cfg.Enabled = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = otel.ExporterNone

	p, err := otel.NewProviderWithWriter(cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	defer func() { _ = p.Shutdown(context.Background()) }()

	if _, ok := p.Tracer().(*otel.OTelTracer); !ok {
		t.Errorf("Tracer() = %T, want *otel.OTelTracer", p.Tracer())
	}
}

func TestNewProvider_OTLPMetricsWithoutExporter(t *testing.T) {
	cfg := otel.DefaultConfig()
	cfg.Enabled = true
	cfg.Metrics.Enabled = true
	cfg.Metrics.Backend = otel.MetricsOTLP
	cfg.Metrics.Exporter = otel.ExporterNone

	if _, err := otel.NewProviderWithWriter(cfg, &bytes.Buffer{}); !errors.Is(err, otel.ErrInvalidConfig) {
		t.Errorf("NewProvider() error = %v, want %v", err, otel.ErrInvalidConfig)
	}
}
