package config

import "errors"

// 配置验证相关错误
var (
	// ErrInvalidMode 组装模式无效
	ErrInvalidMode = errors.New("mode must be advanced or basic")
	// ErrInvalidWeights 评分权重无效
	ErrInvalidWeights = errors.New("priority weight must be >= relevance weight >= 0")
	// ErrInvalidFloor 可用下限无效
	ErrInvalidFloor = errors.New("viability floor must not be negative")
	// ErrInvalidTolerance 超出容忍度无效
	ErrInvalidTolerance = errors.New("overflow tolerance must be >= 1")
	// ErrInvalidShrink 紧急缩减比例无效
	ErrInvalidShrink = errors.New("emergency shrink must be between 0 and 1")
	// ErrInvalidConcurrency 收集并发上限无效
	ErrInvalidConcurrency = errors.New("gather concurrency must not be negative")
	// ErrInvalidTokenizer 分词器无效
	ErrInvalidTokenizer = errors.New("tokenizer must be estimate or tiktoken")
	// ErrInvalidTimeout 超时时间无效
	ErrInvalidTimeout = errors.New("invalid timeout value")
	// ErrInvalidMaxRetries 重试次数无效
	ErrInvalidMaxRetries = errors.New("invalid max retries value")
	// ErrInvalidPipeline 流水线名称无效
	ErrInvalidPipeline = errors.New("pipeline must be advanced, basic or minimal")
	// ErrUnsupportedFormat 配置文件格式不支持
	ErrUnsupportedFormat = errors.New("unsupported config file format")
)
