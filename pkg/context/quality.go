package context

// computeQuality 计算高级模式的质量指标。
//
// candidates 是收集到的全部片段（含 SystemPrompt 和 UserInput），
// included 是最终包含的片段。
func computeQuality(candidates []*Fragment, included map[Category]*Fragment) *QualityMetrics {
	q := &QualityMetrics{}
	if len(included) == 0 {
		return q
	}

	var relevanceSum float64
	for _, f := range included {
		relevanceSum += f.Relevance
	}
	q.AvgRelevance = relevanceSum / float64(len(included))

	highTotal, highIntact := 0, 0
	for _, f := range candidates {
		if f.Category.Priority() < HighPriorityThreshold {
			continue
		}
		highTotal++
		if inc, ok := included[f.Category]; ok && !inc.Compressed {
			highIntact++
		}
	}
	if highTotal > 0 {
		q.HighPriorityFraction = float64(highIntact) / float64(highTotal)
	}

	q.CategoryDiversity = float64(len(included)) / float64(len(AllCategories()))
	q.OverallQuality = 0.4*q.AvgRelevance + 0.3*q.HighPriorityFraction + 0.3*q.CategoryDiversity
	return q
}
