// Package errors 定义上下文组装引擎的通用错误类型
package errors

import (
	"errors"
	"fmt"
)

// 通用错误
var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrInvalidRequest 组装请求无效
	ErrInvalidRequest = errors.New("invalid assembly request")
	// ErrContextCanceled 上下文被取消
	ErrContextCanceled = errors.New("context canceled")
)

// 上下文组装相关错误
var (
	// ErrCollaboratorUnavailable 某个上下文来源（历史、检索等）不可用
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	// ErrTokenizerUnavailable 分词器不可用，已降级到字符估算
	ErrTokenizerUnavailable = errors.New("tokenizer unavailable")
	// ErrBudgetExhausted 类别预算低于可用下限
	ErrBudgetExhausted = errors.New("category budget exhausted")
	// ErrClassificationAmbiguous 请求类型无法判定
	ErrClassificationAmbiguous = errors.New("request classification ambiguous")
	// ErrScoringUnavailable 相关性评分无法运行
	ErrScoringUnavailable = errors.New("relevance scoring unavailable")
	// ErrAssemblyFailed 组装流水线内部失败
	ErrAssemblyFailed = errors.New("context assembly failed")
)

// 策略链相关错误
var (
	// ErrRateLimited 请求被限速
	ErrRateLimited = errors.New("rate limited")
	// ErrTimeout 请求超时
	ErrTimeout = errors.New("request timeout")
	// ErrTokenLimitExceeded Token 限制超出
	ErrTokenLimitExceeded = errors.New("token limit exceeded")
	// ErrProviderUnavailable 提供方不可用
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrNoPipeline 没有可用的组装流水线
	ErrNoPipeline = errors.New("no assembly pipeline available")
)

// WrapError 包装错误并添加上下文信息
func WrapError(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrCollaboratorUnavailable)
}

// IsFatal 判断错误是否为致命错误（不可恢复）
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsDegradable 判断错误是否可以通过降级流水线解决
func IsDegradable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTokenLimitExceeded) ||
		errors.Is(err, ErrScoringUnavailable) ||
		errors.Is(err, ErrAssemblyFailed) ||
		errors.Is(err, ErrTokenizerUnavailable)
}
