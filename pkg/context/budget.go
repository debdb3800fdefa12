package context

// 预算常量。
const (
	// MaxTotalTokens 模型上下文窗口总量（输入 + 输出）。
	MaxTotalTokens = 200000

	// TargetInputTokens 输入部分的目标上限，为模型回答保留 20000。
	TargetInputTokens = 180000

	// UserInputBaseline UserInput 的基线预算。
	UserInputBaseline = 2000

	// MinAdjustedBudget 可调整类别在重新分配后的最低预算。
	MinAdjustedBudget = 1000
)

// TokenBudget 是一次组装调用的各类别 Token 分配表。
//
// 不变量：InputTotal() + OutputBuffer == MaxTotalTokens，
// 除非用户输入过大导致 Overcommitted()。
type TokenBudget struct {
	// RequestType 对应的请求类型。
	RequestType RequestType `json:"request_type"`

	// Allocations 各类别的 Token 上限，未列出的类别预算为 0。
	Allocations map[Category]int `json:"allocations"`

	// OutputBuffer 为模型回答预留的 Token。
	OutputBuffer int `json:"output_buffer"`

	// Deficit 输出缓冲区也无法吸收的超额部分。
	Deficit int `json:"deficit,omitempty"`
}

// For 返回类别的预算。
func (b TokenBudget) For(cat Category) int {
	return b.Allocations[cat]
}

// InputTotal 返回所有类别预算之和。
func (b TokenBudget) InputTotal() int {
	total := 0
	for _, v := range b.Allocations {
		total += v
	}
	return total
}

// Total 返回类别预算与输出缓冲区之和。
func (b TokenBudget) Total() int {
	return b.InputTotal() + b.OutputBuffer
}

// Overcommitted 返回预算是否超出上下文窗口。
func (b TokenBudget) Overcommitted() bool {
	return b.Deficit > 0
}

// clone 返回预算表的深拷贝。
func (b TokenBudget) clone() TokenBudget {
	out := b
	out.Allocations = make(map[Category]int, len(b.Allocations))
	for k, v := range b.Allocations {
		out.Allocations[k] = v
	}
	return out
}

// baselineBudgets 各请求类型的基线预算表，只读。
var baselineBudgets = map[RequestType]TokenBudget{
	RequestCreation: {
		RequestType: RequestCreation,
		Allocations: map[Category]int{
			CategorySystemPrompt:        5000,
			CategoryUserInput:           2000,
			CategoryComplianceSources:   25000,
			CategoryConversationHistory: 40000,
			CategoryRetrievedExamples:   20000,
			CategoryDocumentSummaries:   30000,
			CategoryMediaTranscript:     30000,
		},
		OutputBuffer: 48000,
	},
	RequestRefinement: {
		RequestType: RequestRefinement,
		Allocations: map[Category]int{
			CategorySystemPrompt:        5000,
			CategoryUserInput:           2000,
			CategoryCurrentContent:      15000,
			CategoryComplianceSources:   20000,
			CategoryConversationHistory: 25000,
			CategoryRetrievedExamples:   15000,
			CategoryDocumentSummaries:   20000,
		},
		OutputBuffer: 98000,
	},
	RequestAnalysis: {
		RequestType: RequestAnalysis,
		Allocations: map[Category]int{
			CategorySystemPrompt:        5000,
			CategoryUserInput:           2000,
			CategoryComplianceSources:   30000,
			CategoryConversationHistory: 30000,
			CategoryRetrievedExamples:   25000,
			CategoryDocumentSummaries:   50000,
		},
		OutputBuffer: 58000,
	},
	RequestConversation: {
		RequestType: RequestConversation,
		Allocations: map[Category]int{
			CategorySystemPrompt:        5000,
			CategoryUserInput:           2000,
			CategoryComplianceSources:   15000,
			CategoryConversationHistory: 60000,
			CategoryRetrievedExamples:   10000,
		},
		OutputBuffer: 108000,
	},
}

// AdjustableCategories 返回用户输入超出基线时可被削减的类别。
func AdjustableCategories() []Category {
	return []Category{
		CategoryDocumentSummaries,
		CategoryRetrievedExamples,
		CategoryMediaTranscript,
	}
}

// BaselineBudget 返回请求类型的基线预算副本，未知类型按 Conversation 处理。
func BaselineBudget(rt RequestType) TokenBudget {
	b, ok := baselineBudgets[rt]
	if !ok {
		b = baselineBudgets[RequestConversation]
	}
	return b.clone()
}

// Plan 根据请求类型和用户输入的实际 Token 数量生成预算表。
//
// 用户输入超出基线的部分按基线比例从可调整类别中扣除，每个类别不低于
// MinAdjustedBudget；SystemPrompt 不变，UserInput 设为实际数量。
// 下限导致无法吸收的部分从 OutputBuffer 扣除，仍不足时记入 Deficit。
// 单次计算，不迭代。
func Plan(rt RequestType, userInputTokens int) TokenBudget {
	b := BaselineBudget(rt)

	excess := userInputTokens - UserInputBaseline
	if excess <= 0 {
		return b
	}
	b.Allocations[CategoryUserInput] = userInputTokens

	adjustableTotal := 0
	for _, cat := range AdjustableCategories() {
		adjustableTotal += b.Allocations[cat]
	}

	absorbed := 0
	if adjustableTotal > 0 {
		for _, cat := range AdjustableCategories() {
			base := b.Allocations[cat]
			if base == 0 {
				continue
			}
			share := int(int64(excess) * int64(base) / int64(adjustableTotal))
			next := base - share
			if next < MinAdjustedBudget {
				next = MinAdjustedBudget
			}
			if next > base {
				next = base
			}
			absorbed += base - next
			b.Allocations[cat] = next
		}
	}

	b.OutputBuffer -= excess - absorbed
	if b.OutputBuffer < 0 {
		b.Deficit = -b.OutputBuffer
		b.OutputBuffer = 0
	}
	return b
}
