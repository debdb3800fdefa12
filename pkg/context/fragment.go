package context

import (
	"math"
	"strings"
)

// Block 是列表型片段（示例、摘要、合规来源）中的一个完整条目。
// 压缩时只会整体保留或整体丢弃。
type Block struct {
	// Title 条目标题。
	Title string `json:"title,omitempty"`

	// Text 条目正文。
	Text string `json:"text"`

	// Hint 上游给出的相关性提示（0.0-1.0，可选）。
	Hint *float64 `json:"hint,omitempty"`

	// Relevance 高级模式下计算出的相关性分数。
	Relevance float64 `json:"relevance,omitempty"`
}

// Render 返回条目的文本形式。
func (b Block) Render() string {
	body := strings.TrimSpace(b.Text)
	if b.Title == "" {
		return body
	}
	return "### " + strings.TrimSpace(b.Title) + "\n" + body
}

// renderBlocks 将条目拼接为片段正文。
func renderBlocks(blocks []Block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, b.Render())
	}
	return strings.Join(parts, "\n\n")
}

// Fragment 表示带类别标记的一段候选上下文。
//
// 片段创建后不会被原地修改，压缩总是返回新的片段。
type Fragment struct {
	// Category 片段类别。
	Category Category

	// Text 片段文本。
	Text string

	// RawTokens 是 Text 的 Token 数量。
	RawTokens int

	// Relevance 相关性分数（0.0-1.0），仅高级模式下有效。
	Relevance float64

	// Scored 表示 Relevance 是否已计算。
	Scored bool

	// SourceID 来源标识（不透明）。
	SourceID string

	// Blocks 列表型片段的条目，非列表型片段为空。
	Blocks []Block

	// Compressed 表示该片段是否经过压缩。
	Compressed bool

	// origin 指向未压缩的原始片段。
	origin *Fragment
}

// FragmentOption 配置 Fragment。
type FragmentOption func(*Fragment)

// WithSourceID 设置片段来源。
func WithSourceID(id string) FragmentOption {
	return func(f *Fragment) {
		f.SourceID = id
	}
}

// WithBlocks 设置片段条目。
func WithBlocks(blocks []Block) FragmentOption {
	return func(f *Fragment) {
		f.Blocks = append([]Block(nil), blocks...)
	}
}

// WithRelevance 设置预先计算好的相关性分数。
func WithRelevance(score float64) FragmentOption {
	return func(f *Fragment) {
		f.Relevance = clamp01(score)
		f.Scored = true
	}
}

// NewFragment 创建新片段并计算 Token 数量。
// counter 为 nil 时使用字符估算。
func NewFragment(cat Category, text string, counter TokenCounter, opts ...FragmentOption) *Fragment {
	f := &Fragment{
		Category: cat,
		Text:     text,
	}

	for _, opt := range opts {
		opt(f)
	}

	if counter == nil {
		counter = NewEstimatedCounter()
	}
	f.RawTokens = counter.Count(f.Text)
	return f
}

// NewBlockFragment 由条目列表创建列表型片段。
func NewBlockFragment(cat Category, blocks []Block, counter TokenCounter, opts ...FragmentOption) *Fragment {
	opts = append([]FragmentOption{WithBlocks(blocks)}, opts...)
	return NewFragment(cat, renderBlocks(blocks), counter, opts...)
}

// Origin 返回未压缩的原始片段。
func (f *Fragment) Origin() *Fragment {
	if f.origin != nil {
		return f.origin
	}
	return f
}

// IsEmpty 返回片段是否没有实际内容。
func (f *Fragment) IsEmpty() bool {
	return f == nil || strings.TrimSpace(f.Text) == ""
}

// derive 以新文本创建压缩后的片段。
func (f *Fragment) derive(text string, blocks []Block, counter TokenCounter) *Fragment {
	return &Fragment{
		Category:   f.Category,
		Text:       text,
		RawTokens:  counter.Count(text),
		Relevance:  f.Relevance,
		Scored:     f.Scored,
		SourceID:   f.SourceID,
		Blocks:     blocks,
		Compressed: true,
		origin:     f.Origin(),
	}
}

// withScore 返回带相关性分数的新片段，条目可按相关性重新排序。
func (f *Fragment) withScore(score float64, blocks []Block, counter TokenCounter) *Fragment {
	out := *f
	out.Relevance = clamp01(score)
	out.Scored = true
	out.origin = nil
	if len(blocks) > 0 {
		out.Blocks = blocks
		out.Text = renderBlocks(blocks)
		out.RawTokens = counter.Count(out.Text)
	}
	return &out
}

// mergeFragments 合并同一类别的多个片段，条目按输入顺序拼接。
func mergeFragments(frags []*Fragment, counter TokenCounter) *Fragment {
	if len(frags) == 1 {
		return frags[0]
	}

	var (
		texts   []string
		sources []string
		blocks  []Block
	)
	allBlocks := true
	for _, f := range frags {
		texts = append(texts, f.Text)
		if f.SourceID != "" {
			sources = append(sources, f.SourceID)
		}
		if len(f.Blocks) == 0 {
			allBlocks = false
		}
		blocks = append(blocks, f.Blocks...)
	}

	if allBlocks {
		return NewBlockFragment(frags[0].Category, blocks, counter, WithSourceID(strings.Join(sources, ",")))
	}
	return NewFragment(frags[0].Category, strings.Join(texts, "\n\n"), counter, WithSourceID(strings.Join(sources, ",")))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
