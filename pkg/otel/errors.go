package otel

import "errors"

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("invalid observability config")
	// ErrInvalidSampleRate 采样率无效
	ErrInvalidSampleRate = errors.New("sample rate must be between 0 and 1")
	// ErrExportFailed 遥测数据创建导出器或写出失败
	ErrExportFailed = errors.New("failed to export telemetry data")
)
