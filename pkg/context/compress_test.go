package context_test

import (
	"fmt"
	"strings"
	"testing"

	agentctx "github.com/easyops/contextbudget/pkg/context"
)

func newEngine() (*agentctx.CompressionEngine, agentctx.TokenCounter) {
	counter := agentctx.NewEstimatedCounter()
	return agentctx.NewCompressionEngine(counter, agentctx.DefaultConfig()), counter
}

func TestCompress_FitsUnchanged(t *testing.T) {
	engine, counter := newEngine()
	f := agentctx.NewFragment(agentctx.CategoryConversationHistory, filler(800), counter)

	if got := engine.Compress(f, 1000, f.Category); got != f {
		t.Error("fragment within target should be returned unchanged")
	}
}

func TestCompress_BelowFloorReturnsStub(t *testing.T) {
	engine, counter := newEngine()
	f := agentctx.NewFragment(agentctx.CategoryDocumentSummaries, filler(2000), counter)

	got := engine.Compress(f, 300, f.Category)
	if got.Text != agentctx.MarkerStub {
		t.Errorf("Text = %q, want stub", got.Text)
	}
	if !got.Compressed {
		t.Error("stub should be marked compressed")
	}
	if f.Text != filler(2000) {
		t.Error("input fragment was modified")
	}
}

func TestCompress_NeverGrows(t *testing.T) {
	engine, counter := newEngine()
	f := agentctx.NewFragment(agentctx.CategoryMediaTranscript, "tiny", counter)

	if got := engine.Compress(f, -1, f.Category); got != f {
		t.Errorf("Compress() = %q, want original when stub would be larger", got.Text)
	}
}

func TestCompress_GenericPrefix(t *testing.T) {
	engine, counter := newEngine()
	f := agentctx.NewFragment(agentctx.CategorySystemPrompt, filler(3000), counter)

	got := engine.Compress(f, 1000, f.Category)
	if got.RawTokens > 1000 {
		t.Errorf("RawTokens = %d, want <= 1000", got.RawTokens)
	}
	if !strings.HasSuffix(got.Text, agentctx.MarkerEllipsis) {
		t.Errorf("generic result should end with %q", agentctx.MarkerEllipsis)
	}
	if !strings.HasPrefix(f.Text, strings.TrimSuffix(got.Text, agentctx.MarkerEllipsis)) {
		t.Error("generic result should be a prefix of the original")
	}
}

func TestCompress_ToleranceAndIdempotence(t *testing.T) {
	engine, counter := newEngine()
	fragments := map[agentctx.Category]*agentctx.Fragment{
		agentctx.CategoryConversationHistory: agentctx.NewFragment(agentctx.CategoryConversationHistory, transcript(60, 80), counter),
		agentctx.CategoryMediaTranscript:     agentctx.NewFragment(agentctx.CategoryMediaTranscript, filler(6000), counter),
		agentctx.CategoryRetrievedExamples:   agentctx.NewBlockFragment(agentctx.CategoryRetrievedExamples, exampleBlocks(12, 400), counter),
		agentctx.CategoryDocumentSummaries:   agentctx.NewBlockFragment(agentctx.CategoryDocumentSummaries, exampleBlocks(8, 600), counter),
		agentctx.CategoryComplianceSources:   agentctx.NewFragment(agentctx.CategoryComplianceSources, markdownDoc(6, 8, 90), counter),
		agentctx.CategoryCurrentContent:      agentctx.NewFragment(agentctx.CategoryCurrentContent, lines(80, 70), counter),
	}

	for cat, f := range fragments {
		for _, target := range []int{600, 1500, 3000} {
			t.Run(fmt.Sprintf("%s/%d", cat, target), func(t *testing.T) {
				first := engine.Compress(f, target, cat)
				if limit := int(float64(target) * 1.2); first.RawTokens > limit {
					t.Errorf("first pass = %d tokens, want <= %d", first.RawTokens, limit)
				}
				if first.RawTokens > f.RawTokens {
					t.Errorf("compression grew fragment: %d > %d", first.RawTokens, f.RawTokens)
				}
				second := engine.Compress(first, target, cat)
				if second.RawTokens > first.RawTokens {
					t.Errorf("second pass = %d tokens, first = %d", second.RawTokens, first.RawTokens)
				}
				if first.Origin() != f {
					t.Error("Origin() should point at the uncompressed fragment")
				}
			})
		}
	}
}

func TestCompress_HistoryKeepsLatestTurnsInOrder(t *testing.T) {
	engine, counter := newEngine()
	f := agentctx.NewFragment(agentctx.CategoryConversationHistory, transcript(40, 100), counter)

	got := engine.Compress(f, 1000, f.Category)
	if got.RawTokens > 1000 {
		t.Errorf("RawTokens = %d, want <= 1000", got.RawTokens)
	}
	if !strings.HasPrefix(got.Text, agentctx.MarkerHistoryTruncated) {
		t.Errorf("history should start with truncation marker, got %q", got.Text[:40])
	}
	if !strings.Contains(got.Text, "assistant: A039") {
		t.Error("latest turn must be kept")
	}

	last := -1
	for i := 0; i < 40; i++ {
		pos := strings.Index(got.Text, fmt.Sprintf("Q%03d", i))
		if pos < 0 {
			continue
		}
		if pos < last {
			t.Errorf("turn %d appears before an earlier turn", i)
		}
		last = pos
	}
	if strings.Contains(got.Text, "Q000") {
		t.Error("oldest turn should have been dropped")
	}
}

func TestCompress_HistoryOversizedLatestTurn(t *testing.T) {
	engine, counter := newEngine()
	text := "user: short question\n\nassistant: " + filler(3000)
	f := agentctx.NewFragment(agentctx.CategoryConversationHistory, text, counter)

	got := engine.Compress(f, 1000, f.Category)
	if got.RawTokens > 1200 {
		t.Errorf("RawTokens = %d, want <= 1200", got.RawTokens)
	}
	if !strings.Contains(got.Text, "assistant: lorem") {
		t.Errorf("latest turn prefix missing: %q", got.Text[:80])
	}
	if strings.Contains(got.Text, "short question") {
		t.Error("earlier turn should be dropped when the latest turn alone exceeds the target")
	}
}

func TestCompress_TranscriptNote(t *testing.T) {
	engine, counter := newEngine()
	f := agentctx.NewFragment(agentctx.CategoryMediaTranscript, filler(5000), counter)

	got := engine.Compress(f, 1000, f.Category)
	if got.RawTokens > 1000 {
		t.Errorf("RawTokens = %d, want <= 1000", got.RawTokens)
	}
	if !strings.Contains(got.Text, "[Transcript truncated: showing first ") || !strings.Contains(got.Text, "of 20000 characters]") {
		t.Errorf("missing transcript note: %q", got.Text[len(got.Text)-80:])
	}
}

func TestCompress_ExamplesWholeBlocks(t *testing.T) {
	engine, counter := newEngine()
	blocks := exampleBlocks(10, 300)
	f := agentctx.NewBlockFragment(agentctx.CategoryRetrievedExamples, blocks, counter)

	got := engine.Compress(f, 1000, f.Category)
	if len(got.Blocks) != 3 {
		t.Fatalf("kept %d blocks, want 3", len(got.Blocks))
	}
	for i, b := range got.Blocks {
		if b.Text != blocks[i].Text {
			t.Errorf("block %d was altered", i)
		}
	}
	if !strings.HasSuffix(got.Text, agentctx.MarkerExamplesTruncated) {
		t.Error("examples should end with truncation marker")
	}
	if got.RawTokens > 1000 {
		t.Errorf("RawTokens = %d, want <= 1000", got.RawTokens)
	}
}

func TestCompress_SummariesPartialFirstBlock(t *testing.T) {
	engine, counter := newEngine()
	blocks := []agentctx.Block{{Title: "Annual report", Text: filler(3000)}}
	f := agentctx.NewBlockFragment(agentctx.CategoryDocumentSummaries, blocks, counter)

	got := engine.Compress(f, 1000, f.Category)
	if !strings.HasPrefix(got.Text, "### Annual report\n") {
		t.Errorf("summary title missing: %q", got.Text[:40])
	}
	if !strings.HasSuffix(got.Text, agentctx.MarkerSummariesTruncated) {
		t.Error("summaries should end with truncation marker")
	}
	if got.RawTokens > 1200 {
		t.Errorf("RawTokens = %d, want <= 1200", got.RawTokens)
	}
}

func TestCompress_StructuredKeepsSkeleton(t *testing.T) {
	engine, counter := newEngine()
	doc := markdownDoc(5, 10, 100)
	f := agentctx.NewFragment(agentctx.CategoryComplianceSources, doc, counter)

	got := engine.Compress(f, 1000, f.Category)
	if got.RawTokens > 1000 {
		t.Errorf("RawTokens = %d, want <= 1000", got.RawTokens)
	}
	for s := 1; s <= 5; s++ {
		if !strings.Contains(got.Text, fmt.Sprintf("## Section %d", s)) {
			t.Errorf("heading %d missing", s)
		}
		if !strings.Contains(got.Text, fmt.Sprintf("- Requirement %d", s)) {
			t.Errorf("list item %d missing", s)
		}
	}
	if !strings.Contains(got.Text, agentctx.MarkerTextTruncated) {
		t.Error("structured result should contain text truncation marker")
	}
}

func TestCompress_StructuredSingleParagraph(t *testing.T) {
	engine, counter := newEngine()
	f := agentctx.NewFragment(agentctx.CategoryCurrentContent, filler(4000), counter)

	got := engine.Compress(f, 1000, f.Category)
	if got.RawTokens > 1000 || got.RawTokens < 900 {
		t.Errorf("RawTokens = %d, want close to 1000", got.RawTokens)
	}
}

func TestStrategyFor(t *testing.T) {
	tests := map[agentctx.Category]agentctx.Strategy{
		agentctx.CategoryConversationHistory: agentctx.StrategyHistory,
		agentctx.CategoryMediaTranscript:     agentctx.StrategyTranscript,
		agentctx.CategoryRetrievedExamples:   agentctx.StrategyBlocks,
		agentctx.CategoryDocumentSummaries:   agentctx.StrategyBlocks,
		agentctx.CategoryComplianceSources:   agentctx.StrategyStructured,
		agentctx.CategoryCurrentContent:      agentctx.StrategyStructured,
		agentctx.CategorySystemPrompt:        agentctx.StrategyGeneric,
	}
	for cat, want := range tests {
		if got := agentctx.StrategyFor(cat); got != want {
			t.Errorf("StrategyFor(%s) = %s, want %s", cat, got, want)
		}
	}
}

// transcript 生成 turns 轮问答，每条消息约 perTurn 个 Token。
func transcript(turns, perTurn int) string {
	var parts []string
	for i := 0; i < turns; i++ {
		parts = append(parts,
			fmt.Sprintf("user: Q%03d %s", i, filler(perTurn)),
			fmt.Sprintf("assistant: A%03d %s", i, filler(perTurn)),
		)
	}
	return strings.Join(parts, "\n\n")
}

func exampleBlocks(n, perBlock int) []agentctx.Block {
	blocks := make([]agentctx.Block, n)
	for i := range blocks {
		blocks[i] = agentctx.Block{Title: fmt.Sprintf("Example %d", i), Text: filler(perBlock)}
	}
	return blocks
}

// markdownDoc 生成带标题和列表的 Markdown 文档。
func markdownDoc(sections, paragraphs, perLine int) string {
	var b strings.Builder
	for s := 1; s <= sections; s++ {
		fmt.Fprintf(&b, "## Section %d\n\n", s)
		b.WriteString(lines(paragraphs, perLine))
		fmt.Fprintf(&b, "\n\n- Requirement %d applies\n\n", s)
	}
	return strings.TrimSpace(b.String())
}
