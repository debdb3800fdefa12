package context

import (
	"slices"
	"strings"
)

// Classification 是请求分类的结果。
type Classification struct {
	// Type 判定的请求类型。
	Type RequestType `json:"type"`

	// Ambiguous 没有任何关键词命中时为 true，此时使用 Conversation。
	Ambiguous bool `json:"ambiguous"`

	// Matched 命中的关键词。
	Matched []string `json:"matched,omitempty"`
}

// keywordSet 一类请求的关键词。
type keywordSet struct {
	// stems 按前缀匹配小写词元，词干不少于 5 个字符。
	stems []string
	// words 整词匹配，用于短词和需要限定词形的词。
	words []string
	// imperatives 名词或形容词同形的动词，只在祈使位置整词匹配。
	imperatives []string
	// terms 中文关键词，按子串匹配。
	terms []string
}

var (
	refinementKeywords = keywordSet{
		stems: []string{
			"revis", "rewrit", "refin", "improv", "modif", "polish", "shorten",
			"lengthen", "tweak", "adjust", "rephras", "proofread", "tighten", "simplif",
		},
		words: []string{
			"edit", "edits", "edited", "editing", "typo", "typos",
			"updating", "changing", "corrected", "correcting",
		},
		imperatives: []string{"update", "change", "correct", "fix"},
		terms:       []string{"修改", "润色", "改写", "优化", "调整", "精简", "校对"},
	}
	analysisKeywords = keywordSet{
		stems: []string{
			"analy", "compar", "evaluat", "assess", "review", "examin", "explain",
			"critiqu", "contrast", "summari", "breakdown",
		},
		terms: []string{"分析", "比较", "对比", "评估", "解释", "总结"},
	}
	creationKeywords = keywordSet{
		stems: []string{
			"creat", "draft", "generat", "compos", "prepar", "outlin", "brainstorm", "design",
		},
		words: []string{"write", "writes", "writing", "written", "wrote", "new"},
		terms: []string{"创建", "撰写", "起草", "生成", "编写", "写一"},
	}

	// imperativeLeads 之后的词处于祈使位置。
	imperativeLeads = map[string]bool{
		"please": true, "pls": true, "kindly": true, "just": true, "also": true,
		"you": true, "to": true, "and": true, "then": true,
	}
)

// Classify 根据用户请求和是否提供了当前内容判定请求类型。
//
// 判定顺序为 Refinement、Analysis、Creation；提供了当前内容时，
// 除非命中分析类关键词，否则视为 Refinement。
func Classify(userRequest, currentContent string) Classification {
	tokens := tokenize(userRequest)
	lower := strings.ToLower(userRequest)

	refinement := refinementKeywords.match(tokens, lower)
	analysis := analysisKeywords.match(tokens, lower)
	creation := creationKeywords.match(tokens, lower)
	hasContent := strings.TrimSpace(currentContent) != ""

	switch {
	case len(refinement) > 0:
		return Classification{Type: RequestRefinement, Matched: refinement}
	case len(analysis) > 0:
		return Classification{Type: RequestAnalysis, Matched: analysis}
	case hasContent:
		return Classification{Type: RequestRefinement, Matched: creation}
	case len(creation) > 0:
		return Classification{Type: RequestCreation, Matched: creation}
	default:
		return Classification{Type: RequestConversation, Ambiguous: true}
	}
}

// match 返回命中的词元或中文关键词。
func (k keywordSet) match(tokens []string, lower string) []string {
	var matched []string
	for i, token := range tokens {
		if k.matchToken(token) || (imperative(tokens, i) && slices.Contains(k.imperatives, token)) {
			matched = append(matched, token)
		}
	}
	for _, term := range k.terms {
		if strings.Contains(lower, term) {
			matched = append(matched, term)
		}
	}
	return matched
}

func (k keywordSet) matchToken(token string) bool {
	if slices.Contains(k.words, token) {
		return true
	}
	for _, stem := range k.stems {
		if strings.HasPrefix(token, stem) {
			return true
		}
	}
	return false
}

// imperative 判断第 i 个词元是否位于句首或引导词之后。
func imperative(tokens []string, i int) bool {
	return i == 0 || imperativeLeads[tokens[i-1]]
}
