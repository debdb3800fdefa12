package otel

import "go.opentelemetry.io/otel/attribute"

// 预定义的语义属性键
const (
	// 上下文组装相关属性
	AttrContextRequestType     = "context.request_type"
	AttrContextMode            = "context.mode"
	AttrContextCategory        = "context.category"
	AttrContextSource          = "context.source"
	AttrContextStrategy        = "context.strategy"
	AttrContextTotalTokens     = "context.total_tokens"
	AttrContextOptimized       = "context.optimization_applied"
	AttrContextEmergencyRounds = "context.emergency_rounds"
	AttrContextDegradation     = "context.degradation"

	// 策略链相关属性
	AttrStrategyPipeline = "strategy.pipeline"
	AttrStrategyAttempt  = "strategy.attempt"
	AttrStrategyAction   = "strategy.action"

	// Error 相关属性
	AttrErrorType      = "error.type"
	AttrErrorMessage   = "error.message"
	AttrErrorRetryable = "error.retryable"
)

// Span 名称
const (
	SpanContextAssemble = "context.assemble"
	SpanContextGather   = "context.gather"
	SpanStrategyRun     = "strategy.run"
)

// ContextRequestType 创建请求类型属性
func ContextRequestType(rt string) attribute.KeyValue {
	return attribute.String(AttrContextRequestType, rt)
}

// ContextMode 创建组装模式属性
func ContextMode(mode string) attribute.KeyValue {
	return attribute.String(AttrContextMode, mode)
}

// ContextCategory 创建上下文类别属性
func ContextCategory(cat string) attribute.KeyValue {
	return attribute.String(AttrContextCategory, cat)
}

// ContextSource 创建上下文来源属性
func ContextSource(source string) attribute.KeyValue {
	return attribute.String(AttrContextSource, source)
}

// ContextTotalTokens 创建总 Token 属性
func ContextTotalTokens(n int) attribute.KeyValue {
	return attribute.Int(AttrContextTotalTokens, n)
}

// ContextOptimized 创建是否压缩属性
func ContextOptimized(applied bool) attribute.KeyValue {
	return attribute.Bool(AttrContextOptimized, applied)
}

// ContextEmergencyRounds 创建紧急压缩轮数属性
func ContextEmergencyRounds(n int) attribute.KeyValue {
	return attribute.Int(AttrContextEmergencyRounds, n)
}

// StrategyPipeline 创建流水线属性
func StrategyPipeline(name string) attribute.KeyValue {
	return attribute.String(AttrStrategyPipeline, name)
}

// StrategyAttempt 创建策略尝试属性
func StrategyAttempt(pipeline string, attempt int, action string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrStrategyPipeline, pipeline),
		attribute.Int(AttrStrategyAttempt, attempt),
		attribute.String(AttrStrategyAction, action),
	}
}

// ErrorAttrs 创建错误属性
func ErrorAttrs(errType, message string, retryable bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, errType),
		attribute.String(AttrErrorMessage, message),
		attribute.Bool(AttrErrorRetryable, retryable),
	}
}
