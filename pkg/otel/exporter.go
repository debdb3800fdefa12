package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ExporterType 导出器类型
type ExporterType string

const (
	// ExporterOTLPGRPC OTLP gRPC 导出器
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	// ExporterOTLPHTTP OTLP HTTP 导出器
	ExporterOTLPHTTP ExporterType = "otlp-http"
	// ExporterStdout 标准输出导出器（用于调试）
	ExporterStdout ExporterType = "stdout"
	// ExporterNone 不导出
	ExporterNone ExporterType = "none"

	compressionGzip = "gzip"
)

// IsValid 检查导出器类型是否受支持
func (t ExporterType) IsValid() bool {
	switch t {
	case ExporterOTLPGRPC, ExporterOTLPHTTP, ExporterStdout, ExporterNone:
		return true
	default:
		return false
	}
}

// endpoint 两类 OTLP 导出器共用的连接参数
type endpoint struct {
	address     string
	insecure    bool
	headers     map[string]string
	compression string
	timeout     time.Duration
}

// NewTraceExporter 按追踪配置创建导出器。
//
// ExporterNone 返回 nil，调用方不挂载批处理器。
func NewTraceExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	ep := endpoint{
		address:     cfg.Endpoint,
		insecure:    cfg.Insecure,
		headers:     cfg.Headers,
		compression: cfg.Compression,
		timeout:     cfg.Timeout,
	}

	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch cfg.Exporter {
	case ExporterOTLPGRPC:
		exp, err = otlptracegrpc.New(ctx, traceGRPCOptions(ep)...)
	case ExporterOTLPHTTP:
		exp, err = otlptracehttp.New(ctx, traceHTTPOptions(ep)...)
	case ExporterStdout:
		exp, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: trace exporter %q", ErrInvalidConfig, cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: trace exporter %s: %w", ErrExportFailed, cfg.Exporter, err)
	}
	return exp, nil
}

func traceGRPCOptions(ep endpoint) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(ep.address)}
	if ep.insecure {
		opts = append(opts,
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			otlptracegrpc.WithInsecure(),
		)
	}
	if ep.timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(ep.timeout))
	}
	if len(ep.headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(ep.headers))
	}
	if ep.compression == compressionGzip {
		opts = append(opts, otlptracegrpc.WithCompressor(compressionGzip))
	}
	return opts
}

func traceHTTPOptions(ep endpoint) []otlptracehttp.Option {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(ep.address)}
	if ep.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if ep.timeout > 0 {
		opts = append(opts, otlptracehttp.WithTimeout(ep.timeout))
	}
	if len(ep.headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(ep.headers))
	}
	if ep.compression == compressionGzip {
		opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
	}
	return opts
}

// NewMetricExporter 按指标配置创建 otlp 后端的导出器。
//
// 周期导出必须有目标，ExporterNone 视为配置错误。
func NewMetricExporter(ctx context.Context, cfg MetricsConfig) (sdkmetric.Exporter, error) {
	ep := endpoint{
		address:     cfg.Endpoint,
		insecure:    cfg.Insecure,
		headers:     cfg.Headers,
		compression: cfg.Compression,
	}

	var (
		exp sdkmetric.Exporter
		err error
	)
	switch cfg.Exporter {
	case ExporterOTLPGRPC:
		exp, err = otlpmetricgrpc.New(ctx, metricGRPCOptions(ep)...)
	case ExporterOTLPHTTP:
		exp, err = otlpmetrichttp.New(ctx, metricHTTPOptions(ep)...)
	case ExporterStdout:
		exp, err = stdoutmetric.New(stdoutmetric.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("%w: metric exporter %q for %s backend", ErrInvalidConfig, cfg.Exporter, MetricsOTLP)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: metric exporter %s: %w", ErrExportFailed, cfg.Exporter, err)
	}
	return exp, nil
}

func metricGRPCOptions(ep endpoint) []otlpmetricgrpc.Option {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(ep.address)}
	if ep.insecure {
		opts = append(opts,
			otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			otlpmetricgrpc.WithInsecure(),
		)
	}
	if len(ep.headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(ep.headers))
	}
	if ep.compression == compressionGzip {
		opts = append(opts, otlpmetricgrpc.WithCompressor(compressionGzip))
	}
	return opts
}

func metricHTTPOptions(ep endpoint) []otlpmetrichttp.Option {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(ep.address)}
	if ep.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(ep.headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(ep.headers))
	}
	if ep.compression == compressionGzip {
		opts = append(opts, otlpmetrichttp.WithCompression(otlpmetrichttp.GzipCompression))
	}
	return opts
}
