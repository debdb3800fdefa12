package context_test

import "strings"

// filler 返回按字符估算恰好为 n 个 Token 的文本（4 字符/Token）。
func filler(n int) string {
	const unit = "lorem ipsum dolor sit amet "
	size := n * 4
	s := strings.Repeat(unit, size/len(unit)+1)[:size]
	if size > 0 && s[size-1] == ' ' {
		s = s[:size-1] + "x"
	}
	return s
}

// lines 返回 count 行、每行约 perLine 个 Token 的文本。
func lines(count, perLine int) string {
	out := make([]string, count)
	for i := range out {
		out[i] = filler(perLine)
	}
	return strings.Join(out, "\n")
}
