package context

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// 截断标记。
const (
	MarkerEllipsis           = "..."
	MarkerStub               = "[content too long to include]"
	MarkerHistoryTruncated   = "[Earlier conversation truncated]"
	MarkerExamplesTruncated  = "[Additional examples truncated for space]"
	MarkerSummariesTruncated = "[Additional document summaries truncated for space]"
	MarkerTextTruncated      = "[... text truncated ...]"
)

// Strategy 压缩策略名称。
type Strategy string

const (
	StrategyHistory    Strategy = "history"
	StrategyTranscript Strategy = "transcript"
	StrategyBlocks     Strategy = "blocks"
	StrategyStructured Strategy = "structured"
	StrategyGeneric    Strategy = "generic"
)

// StrategyFor 返回类别固定对应的压缩策略。
func StrategyFor(cat Category) Strategy {
	switch cat {
	case CategoryConversationHistory:
		return StrategyHistory
	case CategoryMediaTranscript:
		return StrategyTranscript
	case CategoryRetrievedExamples, CategoryDocumentSummaries:
		return StrategyBlocks
	case CategoryComplianceSources, CategoryCurrentContent:
		return StrategyStructured
	default:
		return StrategyGeneric
	}
}

// Compressor 定义将片段压缩到目标 Token 数量的接口。
type Compressor interface {
	// Compress 返回压缩后的新片段，不修改输入。
	Compress(f *Fragment, target int, cat Category) *Fragment
}

// CompressorFactory 为一次组装调用创建压缩器，counter 是该次调用的计数器。
type CompressorFactory func(counter TokenCounter, cfg *Config) Compressor

// CompressionEngine 按类别选择压缩策略。
//
// 约定：已在目标内的片段原样返回；结果不超过 target*Tolerance；
// 结果不会比输入更大；目标低于 Floor 时返回占位提示。
type CompressionEngine struct {
	counter TokenCounter

	// Floor 可用下限，目标低于该值时不再尝试保留内容。
	Floor int

	// Tolerance 结果允许超出目标的比例。
	Tolerance float64
}

// NewCompressionEngine 创建新的 CompressionEngine。
func NewCompressionEngine(counter TokenCounter, cfg *Config) *CompressionEngine {
	if counter == nil {
		counter = NewEstimatedCounter()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &CompressionEngine{
		counter:   counter,
		Floor:     cfg.ViabilityFloor,
		Tolerance: cfg.OverflowTolerance,
	}
}

// DefaultCompressorFactory 返回创建 CompressionEngine 的工厂。
func DefaultCompressorFactory() CompressorFactory {
	return func(counter TokenCounter, cfg *Config) Compressor {
		return NewCompressionEngine(counter, cfg)
	}
}

// Compress 将片段压缩到目标 Token 数量。
func (e *CompressionEngine) Compress(f *Fragment, target int, cat Category) *Fragment {
	if f == nil {
		return nil
	}

	current := e.counter.Count(f.Text)
	if current <= target {
		return f
	}

	if target < e.Floor {
		stub := f.derive(MarkerStub, nil, e.counter)
		if stub.RawTokens >= current {
			return f
		}
		return stub
	}

	origin := f.Origin()
	var (
		text   string
		blocks []Block
	)
	switch StrategyFor(cat) {
	case StrategyHistory:
		text = e.history(origin.Text, target)
	case StrategyTranscript:
		text = e.transcript(origin.Text, target)
	case StrategyBlocks:
		text, blocks = e.blocks(origin, target, cat)
	case StrategyStructured:
		text = e.structured(origin.Text, target)
	default:
		text = e.generic(origin.Text, target)
	}

	if text == "" || e.counter.Count(text) > e.limit(target) {
		if StrategyFor(cat) == StrategyHistory {
			// 回退时也要保留最新一轮
			text, blocks = e.latestTurn(splitTurns(origin.Text), target), nil
		} else {
			text, blocks = e.generic(origin.Text, target), nil
		}
	}

	out := f.derive(text, blocks, e.counter)
	if out.RawTokens >= current {
		return f
	}
	return out
}

// limit 返回允许的最大结果。
func (e *CompressionEngine) limit(target int) int {
	tolerance := e.Tolerance
	if tolerance < 1 {
		tolerance = 1
	}
	return int(float64(target) * tolerance)
}

// generic 二分查找最长的前缀，使 count(prefix+"...") 不超过目标。
func (e *CompressionEngine) generic(text string, target int) string {
	return e.prefixWithSuffix(text, target, func(int) string { return MarkerEllipsis })
}

// prefixWithSuffix 二分查找按字符对齐的最长前缀，suffix 可依赖前缀长度。
func (e *CompressionEngine) prefixWithSuffix(text string, target int, suffix func(kept int) string) string {
	runes := []rune(text)
	// 第一个超出目标的前缀长度
	n := sort.Search(len(runes)+1, func(i int) bool {
		return e.counter.Count(string(runes[:i])+suffix(i)) > target
	})
	kept := n - 1
	if kept < 0 {
		kept = 0
	}
	return strings.TrimRight(string(runes[:kept]), " \t\n") + suffix(kept)
}

// roleLine 匹配以角色开头的对话行。
var roleLine = regexp.MustCompile(`(?i)^\s*(user|assistant|system|human|ai|用户|助手)\s*[:：]`)

// splitTurns 将对话记录切分为轮次；没有角色标记时按空行切分。
func splitTurns(text string) []string {
	lines := strings.Split(text, "\n")

	hasRoles := false
	for _, line := range lines {
		if roleLine.MatchString(line) {
			hasRoles = true
			break
		}
	}

	var turns []string
	if hasRoles {
		var current []string
		for _, line := range lines {
			if roleLine.MatchString(line) && len(current) > 0 {
				turns = appendTurn(turns, current)
				current = nil
			}
			current = append(current, line)
		}
		return appendTurn(turns, current)
	}

	for _, para := range strings.Split(text, "\n\n") {
		turns = appendTurn(turns, []string{para})
	}
	return turns
}

func appendTurn(turns []string, lines []string) []string {
	turn := strings.TrimSpace(strings.Join(lines, "\n"))
	if turn == "" {
		return turns
	}
	return append(turns, turn)
}

// history 从最新的轮次开始向前保留完整轮次，开头加一个截断标记。
// 最新一轮总会保留，单独超出时截取其前缀。
func (e *CompressionEngine) history(text string, target int) string {
	turns := splitTurns(text)
	if len(turns) == 0 {
		return ""
	}

	render := func(from int) string {
		body := strings.Join(turns[from:], "\n\n")
		if from == 0 {
			return body
		}
		return MarkerHistoryTruncated + "\n\n" + body
	}

	used := e.counter.Count(MarkerHistoryTruncated) + 1
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := e.counter.Count(turns[i]) + 1
		if used+cost > target {
			break
		}
		used += cost
		start = i
	}

	if start == len(turns) {
		return e.latestTurn(turns, target)
	}

	// 计数不可加，最后对整体复核
	out := render(start)
	for e.counter.Count(out) > target && start < len(turns)-1 {
		start++
		out = render(start)
	}
	return out
}

// latestTurn 只保留最新一轮，必要时截取其前缀。
func (e *CompressionEngine) latestTurn(turns []string, target int) string {
	if len(turns) == 0 {
		return ""
	}
	latest := turns[len(turns)-1]
	prefix := ""
	if len(turns) > 1 {
		prefix = MarkerHistoryTruncated + "\n\n"
	}
	if e.counter.Count(prefix+latest) <= target {
		return prefix + latest
	}
	budget := target - e.counter.Count(prefix)
	return prefix + e.generic(latest, budget)
}

// transcript 保留转录前缀并注明原始字符数。
func (e *CompressionEngine) transcript(text string, target int) string {
	total := len([]rune(text))
	return e.prefixWithSuffix(text, target, func(kept int) string {
		return fmt.Sprintf("\n\n[Transcript truncated: showing first %d of %d characters]", kept, total)
	})
}

// blocks 只保留完整条目；文档摘要在一个完整条目都放不下时截取第一个条目。
func (e *CompressionEngine) blocks(f *Fragment, target int, cat Category) (string, []Block) {
	if len(f.Blocks) == 0 {
		return "", nil
	}

	marker := MarkerExamplesTruncated
	if cat == CategoryDocumentSummaries {
		marker = MarkerSummariesTruncated
	}

	used := e.counter.Count(marker) + 1
	var kept []Block
	for _, b := range f.Blocks {
		cost := e.counter.Count(b.Render()) + 1
		if used+cost > target {
			break
		}
		used += cost
		kept = append(kept, b)
	}

	partial := false
	if len(kept) == 0 && cat == CategoryDocumentSummaries {
		first := f.Blocks[0]
		header := ""
		if first.Title != "" {
			header = "### " + first.Title + "\n"
		}
		budget := target - e.counter.Count(header+"\n\n"+marker)
		head := first
		head.Text = e.generic(strings.TrimSpace(first.Text), budget)
		kept = []Block{head}
		partial = true
	}

	for {
		text := renderBlocks(kept)
		if partial || len(kept) < len(f.Blocks) {
			if text != "" {
				text += "\n\n"
			}
			text += marker
		}
		if e.counter.Count(text) <= target || len(kept) <= 1 {
			return text, kept
		}
		kept = kept[:len(kept)-1]
	}
}

// structured 优先保留 Markdown 标题和列表行，再按文档顺序填充正文，
// 被丢弃的连续正文替换为截断标记。
func (e *CompressionEngine) structured(text string, target int) string {
	lines := strings.Split(text, "\n")
	skeleton := skeletonLines(text, lines)

	keep := make([]bool, len(lines))
	for i := range lines {
		keep[i] = skeleton[i]
	}

	render := func() string {
		var out []string
		dropped := false
		for i, line := range lines {
			if keep[i] {
				out = append(out, line)
				dropped = false
				continue
			}
			if !dropped {
				out = append(out, MarkerTextTruncated)
				dropped = true
			}
		}
		return strings.Join(out, "\n")
	}

	if e.counter.Count(render()) > target {
		return ""
	}

	used := e.counter.Count(render())
	var body []int
	for i, line := range lines {
		if keep[i] {
			continue
		}
		cost := e.counter.Count(line) + 1
		if used+cost > target {
			break
		}
		used += cost
		keep[i] = true
		body = append(body, i)
	}

	out := render()
	for e.counter.Count(out) > target && len(body) > 0 {
		keep[body[len(body)-1]] = false
		body = body[:len(body)-1]
		out = render()
	}
	// 一行正文都放不下时交给前缀截断，避免只剩骨架
	if len(body) == 0 && hasBody(lines, skeleton) {
		return ""
	}
	return out
}

// hasBody 返回是否存在非骨架的非空行。
func hasBody(lines []string, skeleton []bool) bool {
	for i, line := range lines {
		if !skeleton[i] && strings.TrimSpace(line) != "" {
			return true
		}
	}
	return false
}

// 编译时接口检查
var _ Compressor = (*CompressionEngine)(nil)
