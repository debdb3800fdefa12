package context

import (
	"strings"
	"time"

	"github.com/easyops/contextbudget/pkg/core/message"
)

// QualityMetrics 高级模式下的组装质量指标。
type QualityMetrics struct {
	// AvgRelevance 已包含片段的平均相关性。
	AvgRelevance float64 `json:"avg_relevance"`

	// HighPriorityFraction 高优先级片段中未经压缩被包含的比例。
	HighPriorityFraction float64 `json:"high_priority_fraction"`

	// CategoryDiversity 已包含类别数 / 类别总数。
	CategoryDiversity float64 `json:"category_diversity"`

	// OverallQuality 0.4*AvgRelevance + 0.3*HighPriorityFraction + 0.3*CategoryDiversity。
	OverallQuality float64 `json:"overall_quality"`
}

// Section 是最终 Prompt 中的一个段落。
type Section struct {
	Category Category `json:"category"`
	Text     string   `json:"text"`
}

// FragmentReport 描述一个候选片段的去向。
type FragmentReport struct {
	Category       Category `json:"category"`
	SourceID       string   `json:"source_id,omitempty"`
	OriginalTokens int      `json:"original_tokens"`
	FinalTokens    int      `json:"final_tokens"`
	Relevance      float64  `json:"relevance,omitempty"`
	PriorityScore  float64  `json:"priority_score"`
	Included       bool     `json:"included"`
	Compressed     bool     `json:"compressed"`
	Strategy       Strategy `json:"strategy,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

// AssemblyResult 是组装的唯一对外产物，返回后不再修改。
type AssemblyResult struct {
	// ID 本次组装的唯一标识。
	ID string `json:"id"`

	// FinalText 最终拼接的 Prompt。
	FinalText string `json:"final_text"`

	// TotalTokens 对 FinalText 重新计数的结果。
	TotalTokens int `json:"total_tokens"`

	// RequestType 判定的请求类型。
	RequestType RequestType `json:"request_type"`

	// Mode 实际使用的组装模式。
	Mode Mode `json:"mode"`

	// PerCategoryTokens 各类别最终的 Token 数量。
	PerCategoryTokens map[Category]int `json:"per_category_tokens"`

	// OptimizationApplied 是否有片段被压缩或丢弃。
	OptimizationApplied bool `json:"optimization_applied"`

	// Quality 质量指标，仅高级模式。
	Quality *QualityMetrics `json:"quality_metrics,omitempty"`

	// Budget 本次使用的预算表。
	Budget TokenBudget `json:"budget"`

	// Sections 按展示顺序排列的段落。
	Sections []Section `json:"sections"`

	// Fragments 每个候选片段的处理结果。
	Fragments []FragmentReport `json:"fragments,omitempty"`

	// EmergencyRounds 紧急压缩执行的轮数。
	EmergencyRounds int `json:"emergency_rounds,omitempty"`

	// TokenizerFallback 是否降级为字符估算。
	TokenizerFallback bool `json:"tokenizer_fallback,omitempty"`

	// Ambiguous 请求类型是否无法判定。
	Ambiguous bool `json:"ambiguous,omitempty"`

	// Degradations 非致命的降级事件。
	Degradations []Degradation `json:"degradations,omitempty"`

	// InputDigest 输入的规范化摘要（可选）。
	InputDigest string `json:"input_digest,omitempty"`

	// Duration 组装耗时。
	Duration time.Duration `json:"duration_ns"`
}

// Section 返回指定类别的段落文本。
func (r *AssemblyResult) Section(cat Category) (string, bool) {
	for _, s := range r.Sections {
		if s.Category == cat {
			return s.Text, true
		}
	}
	return "", false
}

// HasDegradation 返回是否发生了指定类型的降级。
func (r *AssemblyResult) HasDegradation(kind DegradationKind) bool {
	for _, d := range r.Degradations {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

// BuildMessages 将结果转换为消息列表：除用户请求外的所有段落作为系统消息，
// 用户请求作为用户消息。
func BuildMessages(result *AssemblyResult) []message.Message {
	if result == nil {
		return nil
	}

	var (
		ctxSections []Section
		user        string
	)
	for _, s := range result.Sections {
		if s.Category == CategoryUserInput {
			user = s.Text
			continue
		}
		ctxSections = append(ctxSections, s)
	}

	var messages []message.Message
	if system := renderSections(ctxSections); strings.TrimSpace(system) != "" {
		messages = append(messages, message.Message{
			Role:    message.RoleSystem,
			Content: system,
		})
	}
	if user != "" {
		messages = append(messages, message.Message{
			Role:    message.RoleUser,
			Content: user,
		})
	}
	return messages
}
