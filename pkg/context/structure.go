package context

import (
	"sort"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// markdown 解析器配置不变，全局共享一个实例。
var (
	markdownOnce   sync.Once
	markdownParser goldmark.Markdown
)

func getMarkdownParser() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownParser = goldmark.New()
	})
	return markdownParser
}

// skeletonLines 标记文本中属于结构骨架的行（标题和列表项首行）。
// 返回的切片与 lines 一一对应。
func skeletonLines(src string, lines []string) []bool {
	marks := make([]bool, len(lines))
	if len(lines) == 0 {
		return marks
	}

	// 每行起始字节偏移
	starts := make([]int, len(lines))
	offset := 0
	for i, line := range lines {
		starts[i] = offset
		offset += len(line) + 1
	}
	lineOf := func(pos int) int {
		return sort.Search(len(starts), func(i int) bool { return starts[i] > pos }) - 1
	}

	source := []byte(src)
	document := getMarkdownParser().Parser().Parse(text.NewReader(source))

	markFirstLine := func(node ast.Node) {
		segs := node.Lines()
		if segs == nil || segs.Len() == 0 {
			return
		}
		if i := lineOf(segs.At(0).Start); i >= 0 && i < len(marks) {
			marks[i] = true
		}
	}

	_ = ast.Walk(document, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node.Kind() {
		case ast.KindHeading:
			markFirstLine(node)
			return ast.WalkSkipChildren, nil
		case ast.KindListItem:
			if child := node.FirstChild(); child != nil {
				markFirstLine(child)
			}
		}
		return ast.WalkContinue, nil
	})

	return marks
}
