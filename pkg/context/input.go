package context

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ComplianceSource 合规来源条目。
type ComplianceSource struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// RetrievedExample 检索到的示例条目。
type RetrievedExample struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	// RelevanceHint 上游检索给出的相关性（0.0-1.0，可选）。
	RelevanceHint *float64 `json:"relevance_hint,omitempty"`
}

// DocumentSummary 上传文档的摘要条目。
type DocumentSummary struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// MediaTranscript 外部媒体的转录文本。
type MediaTranscript struct {
	URL       string `json:"url"`
	Text      string `json:"text"`
	WordCount int    `json:"word_count"`
}

// ContextData 是调用方提供的结构化上下文数据。
type ContextData struct {
	ComplianceSources []ComplianceSource `json:"compliance_sources,omitempty"`
	RetrievedExamples []RetrievedExample `json:"retrieved_examples,omitempty"`
	DocumentSummaries []DocumentSummary  `json:"document_summaries,omitempty"`
}

// HistoryProvider 是获取对话历史的协作方，可能阻塞或失败。
type HistoryProvider func(ctx context.Context) (string, error)

// Request 是一次组装调用的完整输入（封闭记录）。
type Request struct {
	// UserRequest 用户当前请求。
	UserRequest string `json:"user_request"`

	// SystemPrompt 系统提示，为空时使用配置中的默认值。
	SystemPrompt string `json:"system_prompt,omitempty"`

	// CurrentContent 待修改的当前内容（可选）。
	CurrentContent string `json:"current_content,omitempty"`

	// ContextData 结构化上下文数据。
	ContextData ContextData `json:"context_data"`

	// MediaTranscript 媒体转录（可选）。
	MediaTranscript *MediaTranscript `json:"media_transcript,omitempty"`

	// ConversationHistory 静态对话历史，HistoryProvider 非空时忽略。
	ConversationHistory string `json:"conversation_history,omitempty"`

	// HistoryProvider 对话历史协作方。
	HistoryProvider HistoryProvider `json:"-"`

	// Tokenizer 注入的分词函数，为空时使用配置中的计数器。
	Tokenizer TokenizerFunc `json:"-"`
}

// Validate 在边界处严格校验请求。
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}

	var errs []error
	if strings.TrimSpace(r.UserRequest) == "" {
		errs = append(errs, errors.New("user_request is required"))
	}
	for i, s := range r.ContextData.ComplianceSources {
		if strings.TrimSpace(s.Text) == "" {
			errs = append(errs, fmt.Errorf("compliance_sources[%d].text is empty", i))
		}
	}
	for i, ex := range r.ContextData.RetrievedExamples {
		if strings.TrimSpace(ex.Text) == "" {
			errs = append(errs, fmt.Errorf("retrieved_examples[%d].text is empty", i))
		}
		if ex.RelevanceHint != nil && !validHint(*ex.RelevanceHint) {
			errs = append(errs, fmt.Errorf("retrieved_examples[%d].relevance_hint %v out of [0,1]", i, *ex.RelevanceHint))
		}
	}
	for i, s := range r.ContextData.DocumentSummaries {
		if strings.TrimSpace(s.Summary) == "" {
			errs = append(errs, fmt.Errorf("document_summaries[%d].summary is empty", i))
		}
	}
	if m := r.MediaTranscript; m != nil {
		if strings.TrimSpace(m.Text) == "" {
			errs = append(errs, errors.New("media_transcript.text is empty"))
		}
		if m.WordCount < 0 {
			errs = append(errs, errors.New("media_transcript.word_count is negative"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, errors.Join(errs...))
	}
	return nil
}

// Sanitize 返回去掉无效条目后的副本，以及被丢弃条目的说明。
// 组装引擎对不合规的输入只降级，不报错。
func (r *Request) Sanitize() (*Request, []string) {
	out := *r
	var issues []string

	out.ContextData.ComplianceSources = nil
	for i, s := range r.ContextData.ComplianceSources {
		if strings.TrimSpace(s.Text) == "" {
			issues = append(issues, fmt.Sprintf("compliance_sources[%d] dropped: empty text", i))
			continue
		}
		out.ContextData.ComplianceSources = append(out.ContextData.ComplianceSources, s)
	}

	out.ContextData.RetrievedExamples = nil
	for i, ex := range r.ContextData.RetrievedExamples {
		if strings.TrimSpace(ex.Text) == "" {
			issues = append(issues, fmt.Sprintf("retrieved_examples[%d] dropped: empty text", i))
			continue
		}
		if ex.RelevanceHint != nil && !validHint(*ex.RelevanceHint) {
			issues = append(issues, fmt.Sprintf("retrieved_examples[%d] relevance_hint ignored", i))
			ex.RelevanceHint = nil
		}
		out.ContextData.RetrievedExamples = append(out.ContextData.RetrievedExamples, ex)
	}

	out.ContextData.DocumentSummaries = nil
	for i, s := range r.ContextData.DocumentSummaries {
		if strings.TrimSpace(s.Summary) == "" {
			issues = append(issues, fmt.Sprintf("document_summaries[%d] dropped: empty summary", i))
			continue
		}
		out.ContextData.DocumentSummaries = append(out.ContextData.DocumentSummaries, s)
	}

	if m := r.MediaTranscript; m != nil && strings.TrimSpace(m.Text) == "" {
		issues = append(issues, "media_transcript dropped: empty text")
		out.MediaTranscript = nil
	}

	return &out, issues
}

func validHint(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
