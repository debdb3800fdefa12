package context

import "strings"

// renderSections 按给定顺序拼接段落，每段以 [标题] 开头。
func renderSections(sections []Section) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		parts = append(parts, "["+s.Category.Title()+"]\n"+strings.TrimSpace(s.Text))
	}
	return strings.Join(parts, "\n\n")
}

// orderSections 将已包含的片段按展示顺序转换为段落。
func orderSections(included map[Category]*Fragment) []Section {
	sections := make([]Section, 0, len(included))
	for _, cat := range PresentationOrder() {
		if f, ok := included[cat]; ok && !f.IsEmpty() {
			sections = append(sections, Section{Category: cat, Text: f.Text})
		}
	}
	return sections
}
