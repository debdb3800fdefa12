package context

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Scorer 定义相关性评分接口。
type Scorer interface {
	// Score 返回片段文本与用户请求的相关性，范围 [0,1]。
	Score(text, request string, cat Category) float64
}

// ScoringWeights 是优先级分数的权重，Priority 必须不小于 Relevance，
// 这样类别优先级总是主导排序。
type ScoringWeights struct {
	Priority  float64 `json:"priority"`
	Relevance float64 `json:"relevance"`
}

// DefaultScoringWeights 返回默认权重。
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{Priority: 1.0, Relevance: 0.5}
}

// PriorityScore 返回 static_priority*A + relevance*B。
func PriorityScore(cat Category, relevance float64, w ScoringWeights) float64 {
	return float64(cat.Priority())*w.Priority + clamp01(relevance)*w.Relevance
}

// Rank 按优先级分数降序稳定排序，返回新切片。
func Rank(frags []*Fragment, w ScoringWeights) []*Fragment {
	ranked := make([]*Fragment, len(frags))
	copy(ranked, frags)
	sort.SliceStable(ranked, func(i, j int) bool {
		return PriorityScore(ranked[i].Category, ranked[i].Relevance, w) >
			PriorityScore(ranked[j].Category, ranked[j].Relevance, w)
	})
	return ranked
}

// RelevanceScorer 基于词汇重叠的确定性评分器。
type RelevanceScorer struct {
	stopwords map[string]struct{}

	// complianceTerms 命中后合规来源至少得到 complianceFloor 分。
	complianceTerms []string
	complianceFloor float64

	// longTermLen 不短于该长度的词权重更高。
	longTermLen int
}

// NewRelevanceScorer 创建新的 RelevanceScorer。
func NewRelevanceScorer() *RelevanceScorer {
	stopwords := make(map[string]struct{}, len(defaultStopwords))
	for _, w := range defaultStopwords {
		stopwords[w] = struct{}{}
	}
	return &RelevanceScorer{
		stopwords: stopwords,
		complianceTerms: []string{
			"risk", "past performance", "disclaimer", "not guaranteed",
			"may lose", "no guarantee", "regulat", "风险", "免责", "过往业绩",
		},
		complianceFloor: 0.95,
		longTermLen:     7,
	}
}

// Score 计算片段与请求的加权重叠。
//
// SystemPrompt 和 UserInput 总是 1.0；含风险提示的合规来源不低于 0.95。
func (s *RelevanceScorer) Score(text, request string, cat Category) float64 {
	if cat.IsMandatory() {
		return 1.0
	}

	score := s.overlap(text, request)

	if cat == CategoryComplianceSources {
		lower := strings.ToLower(text)
		for _, term := range s.complianceTerms {
			if strings.Contains(lower, term) {
				if score < s.complianceFloor {
					score = s.complianceFloor
				}
				break
			}
		}
	}

	return clamp01(score)
}

// overlap 返回请求中重要词在片段中出现的加权比例。
func (s *RelevanceScorer) overlap(text, request string) float64 {
	requestTerms := s.terms(request)
	if len(requestTerms) == 0 {
		return 0.0
	}

	textTerms := s.terms(text)
	if len(textTerms) == 0 {
		return 0.0
	}

	var matched, total float64
	for term := range requestTerms {
		weight := 1.0
		if utf8.RuneCountInString(term) >= s.longTermLen {
			weight = 1.5
		}
		total += weight
		if _, ok := textTerms[term]; ok {
			matched += weight
		}
	}
	return matched / total
}

// terms 返回去除停用词并词干化后的词集合，中文按双字切分。
func (s *RelevanceScorer) terms(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, token := range tokenize(text) {
		if isCJKToken(token) {
			for _, bigram := range cjkBigrams(token) {
				set[bigram] = struct{}{}
			}
			continue
		}
		if len(token) < 2 {
			continue
		}
		if _, stop := s.stopwords[token]; stop {
			continue
		}
		set[stem(token)] = struct{}{}
	}
	return set
}

// stem 去掉常见英文词尾。
func stem(token string) string {
	if len(token) <= 4 {
		return token
	}
	for _, suffix := range []string{"ing", "ed", "es", "s"} {
		if strings.HasSuffix(token, suffix) && len(token)-len(suffix) >= 3 {
			return strings.TrimSuffix(token, suffix)
		}
	}
	return token
}

func isCJKToken(token string) bool {
	r, _ := utf8.DecodeRuneInString(token)
	return r >= 0x4E00 && r <= 0x9FFF
}

func cjkBigrams(token string) []string {
	runes := []rune(token)
	if len(runes) < 2 {
		return []string{token}
	}
	out := make([]string, 0, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		out = append(out, string(runes[i:i+2]))
	}
	return out
}

// tokenize 将文本分割为小写词元用于比较。
func tokenize(text string) []string {
	text = strings.ToLower(text)

	var tokens []string
	var current strings.Builder

	for _, r := range text {
		if isTokenChar(r) {
			current.WriteRune(r)
		} else if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	return tokens
}

// isTokenChar 返回该字符是否应该是词元的一部分。
func isTokenChar(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= '0' && r <= '9') ||
		r >= 0x4E00 && r <= 0x9FFF // 中文字符
}

var defaultStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "can", "could",
	"do", "does", "for", "from", "has", "have", "how", "i", "if", "in", "into",
	"is", "it", "its", "me", "my", "no", "not", "of", "on", "or", "our",
	"please", "so", "some", "than", "that", "the", "their", "them", "then",
	"there", "these", "they", "this", "to", "up", "us", "was", "we", "what",
	"when", "which", "who", "why", "will", "with", "would", "you", "your",
}

// 编译时接口检查
var _ Scorer = (*RelevanceScorer)(nil)
