package context

import (
	"errors"

	coreerrors "github.com/easyops/contextbudget/pkg/core/errors"
)

// 组装引擎错误分类，与 core/errors 中的哨兵错误一致。
var (
	ErrCollaboratorUnavailable = coreerrors.ErrCollaboratorUnavailable
	ErrTokenizerUnavailable    = coreerrors.ErrTokenizerUnavailable
	ErrBudgetExhausted         = coreerrors.ErrBudgetExhausted
	ErrClassificationAmbiguous = coreerrors.ErrClassificationAmbiguous
	ErrScoringUnavailable      = coreerrors.ErrScoringUnavailable
	ErrAssemblyFailed          = coreerrors.ErrAssemblyFailed
	ErrInvalidRequest          = coreerrors.ErrInvalidRequest
)

// DegradationKind 降级事件类型。
type DegradationKind string

const (
	KindCollaboratorUnavailable DegradationKind = "collaborator_unavailable"
	KindTokenizerUnavailable    DegradationKind = "tokenizer_unavailable"
	KindBudgetExhausted         DegradationKind = "budget_exhausted"
	KindClassificationAmbiguous DegradationKind = "classification_ambiguous"
	KindScoringUnavailable      DegradationKind = "scoring_unavailable"
	KindInvalidInput            DegradationKind = "invalid_input"
	KindAssemblyFailed          DegradationKind = "assembly_failed"
)

// Degradation 记录一次非致命的降级事件。
// 组装不会因为这些事件中止，只在结果中保留记录。
type Degradation struct {
	Kind     DegradationKind `json:"kind"`
	Category Category        `json:"category,omitempty"`
	Source   string          `json:"source,omitempty"`
	Message  string          `json:"message,omitempty"`
	Err      error           `json:"-"`
}

// Error 实现 error 接口。
func (d Degradation) Error() string {
	msg := string(d.Kind)
	if d.Category != "" {
		msg += " [" + string(d.Category) + "]"
	}
	if d.Message != "" {
		msg += ": " + d.Message
	}
	return msg
}

// Unwrap 返回对应的哨兵错误，便于 errors.Is 判断。
func (d Degradation) Unwrap() error {
	if d.Err != nil {
		return d.Err
	}
	return d.Kind.sentinel()
}

func (k DegradationKind) sentinel() error {
	switch k {
	case KindCollaboratorUnavailable:
		return ErrCollaboratorUnavailable
	case KindTokenizerUnavailable:
		return ErrTokenizerUnavailable
	case KindBudgetExhausted:
		return ErrBudgetExhausted
	case KindClassificationAmbiguous:
		return ErrClassificationAmbiguous
	case KindScoringUnavailable:
		return ErrScoringUnavailable
	case KindInvalidInput:
		return ErrInvalidRequest
	default:
		return ErrAssemblyFailed
	}
}

func newDegradation(kind DegradationKind, cat Category, source string, err error) Degradation {
	d := Degradation{Kind: kind, Category: cat, Source: source}
	if err != nil {
		d.Message = err.Error()
		if !errors.Is(err, kind.sentinel()) {
			err = errors.Join(kind.sentinel(), err)
		}
		d.Err = err
	}
	return d
}
