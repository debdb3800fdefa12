// Package strategy 在组装引擎之上提供流水线降级链。
//
// 流水线按顺序尝试（默认 advanced → basic → minimal）。每个错误先归类为
// Kind，再映射为 Action：暂时性错误按指数退避重试，可降级错误进入下一条
// 流水线，致命错误直接跳到最后的 minimal 流水线。
package strategy

import (
	"context"
	"errors"

	coreerrors "github.com/easyops/contextbudget/pkg/core/errors"
)

// Kind 错误类别
type Kind string

const (
	// KindNone 没有错误
	KindNone Kind = "none"
	// KindTransient 暂时性错误，可以重试
	KindTransient Kind = "transient"
	// KindDegradable 换用更简单的流水线可以解决
	KindDegradable Kind = "degradable"
	// KindFatal 请求本身有问题，只能返回最小结果
	KindFatal Kind = "fatal"
)

// Action 对错误采取的动作
type Action string

const (
	ActionAccept  Action = "accept"
	ActionRetry   Action = "retry"
	ActionDegrade Action = "degrade"
	ActionMinimal Action = "minimal"
)

// Classify 对错误归类，未知错误视为可降级。
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindFatal
	case coreerrors.IsFatal(err):
		return KindFatal
	case coreerrors.IsRetryable(err):
		return KindTransient
	default:
		return KindDegradable
	}
}

// Action 返回错误类别对应的动作。
func (k Kind) Action() Action {
	switch k {
	case KindTransient:
		return ActionRetry
	case KindDegradable:
		return ActionDegrade
	case KindFatal:
		return ActionMinimal
	default:
		return ActionAccept
	}
}
