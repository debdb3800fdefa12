package context

import "strings"

// RequestType 表示请求的类型，每次组装调用只判定一次。
type RequestType string

const (
	// RequestCreation 创作新内容。
	RequestCreation RequestType = "creation"

	// RequestRefinement 修改已有内容。
	RequestRefinement RequestType = "refinement"

	// RequestAnalysis 分析或比较内容。
	RequestAnalysis RequestType = "analysis"

	// RequestConversation 普通对话，预算最宽松。
	RequestConversation RequestType = "conversation"
)

// AllRequestTypes 返回全部请求类型。
func AllRequestTypes() []RequestType {
	return []RequestType{RequestCreation, RequestRefinement, RequestAnalysis, RequestConversation}
}

// IsValid 检查请求类型是否有效。
func (t RequestType) IsValid() bool {
	switch t {
	case RequestCreation, RequestRefinement, RequestAnalysis, RequestConversation:
		return true
	default:
		return false
	}
}

// ParseRequestType 解析请求类型名称（不区分大小写）。
func ParseRequestType(s string) (RequestType, bool) {
	t := RequestType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.IsValid()
}

// Category 表示上下文片段的类别（封闭集合）。
type Category string

const (
	// CategorySystemPrompt 系统提示（优先级 10）。
	CategorySystemPrompt Category = "system_prompt"

	// CategoryUserInput 用户当前请求（优先级 10）。
	CategoryUserInput Category = "user_input"

	// CategoryCurrentContent 待修改的当前内容（优先级 8）。
	CategoryCurrentContent Category = "current_content"

	// CategoryComplianceSources 合规来源（优先级 9）。
	CategoryComplianceSources Category = "compliance_sources"

	// CategoryConversationHistory 对话历史（优先级 7）。
	CategoryConversationHistory Category = "conversation_history"

	// CategoryRetrievedExamples 检索到的示例（优先级 6）。
	CategoryRetrievedExamples Category = "retrieved_examples"

	// CategoryDocumentSummaries 上传文档摘要（优先级 5）。
	CategoryDocumentSummaries Category = "document_summaries"

	// CategoryMediaTranscript 外部媒体转录（优先级 3）。
	CategoryMediaTranscript Category = "media_transcript"
)

// HighPriorityThreshold 静态优先级不低于该值的类别视为高优先级。
const HighPriorityThreshold = 8

// AllCategories 以稳定顺序返回全部类别。
func AllCategories() []Category {
	return []Category{
		CategorySystemPrompt,
		CategoryUserInput,
		CategoryCurrentContent,
		CategoryComplianceSources,
		CategoryConversationHistory,
		CategoryRetrievedExamples,
		CategoryDocumentSummaries,
		CategoryMediaTranscript,
	}
}

// PresentationOrder 返回最终 Prompt 中各类别的拼接顺序。
func PresentationOrder() []Category {
	return []Category{
		CategorySystemPrompt,
		CategoryComplianceSources,
		CategoryRetrievedExamples,
		CategoryDocumentSummaries,
		CategoryConversationHistory,
		CategoryCurrentContent,
		CategoryMediaTranscript,
		CategoryUserInput,
	}
}

// EmergencyOrder 返回紧急压缩时的处理顺序，最不关键的类别在前。
// SystemPrompt 和 UserInput 不参与紧急压缩。
func EmergencyOrder() []Category {
	return []Category{
		CategoryMediaTranscript,
		CategoryRetrievedExamples,
		CategoryDocumentSummaries,
		CategoryConversationHistory,
		CategoryComplianceSources,
		CategoryCurrentContent,
	}
}

// Priority 返回类别的静态优先级（10 = 最高）。
func (c Category) Priority() int {
	switch c {
	case CategorySystemPrompt, CategoryUserInput:
		return 10
	case CategoryComplianceSources:
		return 9
	case CategoryCurrentContent:
		return 8
	case CategoryConversationHistory:
		return 7
	case CategoryRetrievedExamples:
		return 6
	case CategoryDocumentSummaries:
		return 5
	case CategoryMediaTranscript:
		return 3
	default:
		return 0
	}
}

// IsValid 检查类别是否有效。
func (c Category) IsValid() bool {
	return c.Priority() > 0
}

// IsMandatory 返回该类别是否总是原样包含。
func (c Category) IsMandatory() bool {
	return c == CategorySystemPrompt || c == CategoryUserInput
}

// Title 返回类别在最终 Prompt 中的段落标题。
func (c Category) Title() string {
	switch c {
	case CategorySystemPrompt:
		return "System"
	case CategoryUserInput:
		return "User Request"
	case CategoryCurrentContent:
		return "Current Content"
	case CategoryComplianceSources:
		return "Compliance Sources"
	case CategoryConversationHistory:
		return "Conversation History"
	case CategoryRetrievedExamples:
		return "Retrieved Examples"
	case CategoryDocumentSummaries:
		return "Document Summaries"
	case CategoryMediaTranscript:
		return "Media Transcript"
	default:
		return string(c)
	}
}

// ParseCategory 解析类别名称（不区分大小写）。
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.IsValid()
}
