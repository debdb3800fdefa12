package otel_test

import (
	"errors"
	"testing"
	"time"

	"github.com/easyops/contextbudget/pkg/otel"
)

func TestDefaultConfig(t *testing.T) {
	cfg := otel.DefaultConfig()

	if cfg.Enabled {
		t.Fatal("expected Enabled to be false by default")
	}
	if cfg.ServiceName != "contextbudget" {
		t.Fatalf("expected ServiceName 'contextbudget', got %s", cfg.ServiceName)
	}
	if cfg.Tracing.Exporter != otel.ExporterOTLPGRPC {
		t.Fatalf("expected Tracing.Exporter otlp-grpc, got %s", cfg.Tracing.Exporter)
	}
	if cfg.Tracing.Timeout != 30*time.Second {
		t.Fatalf("expected Tracing.Timeout 30s, got %s", cfg.Tracing.Timeout)
	}
	if cfg.Metrics.Backend != otel.MetricsMemory {
		t.Fatalf("expected Metrics.Backend memory, got %s", cfg.Metrics.Backend)
	}
	if cfg.Metrics.Interval != 60*time.Second {
		t.Fatalf("expected Metrics.Interval 60s, got %s", cfg.Metrics.Interval)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  otel.Config
		wantErr error
	}{
		{"valid config", otel.DefaultConfig(), nil},
		{"negative sample rate", otel.Config{Tracing: otel.TracingConfig{SampleRate: -0.1}}, otel.ErrInvalidSampleRate},
		{"sample rate too high", otel.Config{Tracing: otel.TracingConfig{SampleRate: 1.5}}, otel.ErrInvalidSampleRate},
		{"zero sample rate", otel.Config{Tracing: otel.TracingConfig{SampleRate: 0}}, nil},
		{"unknown backend", otel.Config{Metrics: otel.MetricsConfig{Backend: "statsd"}}, otel.ErrInvalidConfig},
		{"prometheus backend", otel.Config{Metrics: otel.MetricsConfig{Backend: otel.MetricsPrometheus}}, nil},
		{"unknown trace exporter", otel.Config{Tracing: otel.TracingConfig{Exporter: "zipkin"}}, otel.ErrInvalidConfig},
		{"unknown metric exporter", otel.Config{Metrics: otel.MetricsConfig{Exporter: "statsd"}}, otel.ErrInvalidConfig},
		{"stdout trace exporter", otel.Config{Tracing: otel.TracingConfig{Exporter: otel.ExporterStdout}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_WithDefaults_PreservesSetValues(t *testing.T) {
	cfg := otel.Config{
		ServiceName: "my-service",
		Tracing:     otel.TracingConfig{Endpoint: "custom:4317"},
		Metrics:     otel.MetricsConfig{Backend: otel.MetricsPrometheus},
	}

	result := cfg.WithDefaults()

	if result.ServiceName != "my-service" {
		t.Fatalf("expected ServiceName 'my-service', got %s", result.ServiceName)
	}
	if result.Tracing.Endpoint != "custom:4317" {
		t.Fatalf("expected Tracing.Endpoint 'custom:4317', got %s", result.Tracing.Endpoint)
	}
	if result.Metrics.Backend != otel.MetricsPrometheus {
		t.Fatalf("expected Metrics.Backend prometheus, got %s", result.Metrics.Backend)
	}
	if result.Environment != "development" {
		t.Fatalf("expected Environment 'development', got %s", result.Environment)
	}
	if result.Metrics.Exporter != otel.ExporterOTLPGRPC {
		t.Fatalf("expected Metrics.Exporter otlp-grpc, got %s", result.Metrics.Exporter)
	}
}
