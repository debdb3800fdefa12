package context

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/easyops/contextbudget/pkg/otel"
)

// Gatherer 定义从来源收集上下文片段的接口。
type Gatherer interface {
	// Gather 从来源收集上下文片段。
	Gather(ctx context.Context, input *GatherInput) ([]*Fragment, error)
}

// GatherInput 包含收集上下文的输入数据。
type GatherInput struct {
	// Request 当前组装请求。
	Request *Request

	// Counter 本次调用的 Token 计数器。
	Counter TokenCounter
}

// sourced 由能说明自身来源和类别的收集器实现，用于降级记录。
type sourced interface {
	Source() string
	Category() Category
}

// ComplianceGatherer 收集合规来源。
type ComplianceGatherer struct{}

// NewComplianceGatherer 创建新的 ComplianceGatherer。
func NewComplianceGatherer() *ComplianceGatherer {
	return &ComplianceGatherer{}
}

func (g *ComplianceGatherer) Source() string     { return "compliance" }
func (g *ComplianceGatherer) Category() Category { return CategoryComplianceSources }

// Gather 收集合规来源。
func (g *ComplianceGatherer) Gather(_ context.Context, input *GatherInput) ([]*Fragment, error) {
	sources := input.Request.ContextData.ComplianceSources
	if len(sources) == 0 {
		return nil, nil
	}

	blocks := make([]Block, 0, len(sources))
	for _, s := range sources {
		blocks = append(blocks, Block{Title: s.Title, Text: s.Text})
	}
	return []*Fragment{NewBlockFragment(CategoryComplianceSources, blocks, input.Counter, WithSourceID(g.Source()))}, nil
}

// ExamplesGatherer 收集请求中携带的检索示例。
type ExamplesGatherer struct{}

// NewExamplesGatherer 创建新的 ExamplesGatherer。
func NewExamplesGatherer() *ExamplesGatherer {
	return &ExamplesGatherer{}
}

func (g *ExamplesGatherer) Source() string     { return "examples" }
func (g *ExamplesGatherer) Category() Category { return CategoryRetrievedExamples }

// Gather 收集检索示例。
func (g *ExamplesGatherer) Gather(_ context.Context, input *GatherInput) ([]*Fragment, error) {
	examples := input.Request.ContextData.RetrievedExamples
	if len(examples) == 0 {
		return nil, nil
	}

	blocks := make([]Block, 0, len(examples))
	for _, ex := range examples {
		blocks = append(blocks, Block{Title: ex.Title, Text: ex.Text, Hint: ex.RelevanceHint})
	}
	return []*Fragment{NewBlockFragment(CategoryRetrievedExamples, blocks, input.Counter, WithSourceID(g.Source()))}, nil
}

// SummariesGatherer 收集文档摘要。
type SummariesGatherer struct{}

// NewSummariesGatherer 创建新的 SummariesGatherer。
func NewSummariesGatherer() *SummariesGatherer {
	return &SummariesGatherer{}
}

func (g *SummariesGatherer) Source() string     { return "summaries" }
func (g *SummariesGatherer) Category() Category { return CategoryDocumentSummaries }

// Gather 收集文档摘要。
func (g *SummariesGatherer) Gather(_ context.Context, input *GatherInput) ([]*Fragment, error) {
	summaries := input.Request.ContextData.DocumentSummaries
	if len(summaries) == 0 {
		return nil, nil
	}

	blocks := make([]Block, 0, len(summaries))
	for _, s := range summaries {
		blocks = append(blocks, Block{Title: s.Title, Text: s.Summary})
	}
	return []*Fragment{NewBlockFragment(CategoryDocumentSummaries, blocks, input.Counter, WithSourceID(g.Source()))}, nil
}

// CurrentContentGatherer 收集待修改的当前内容。
type CurrentContentGatherer struct{}

// NewCurrentContentGatherer 创建新的 CurrentContentGatherer。
func NewCurrentContentGatherer() *CurrentContentGatherer {
	return &CurrentContentGatherer{}
}

func (g *CurrentContentGatherer) Source() string     { return "current_content" }
func (g *CurrentContentGatherer) Category() Category { return CategoryCurrentContent }

// Gather 收集当前内容。
func (g *CurrentContentGatherer) Gather(_ context.Context, input *GatherInput) ([]*Fragment, error) {
	content := strings.TrimSpace(input.Request.CurrentContent)
	if content == "" {
		return nil, nil
	}
	return []*Fragment{NewFragment(CategoryCurrentContent, content, input.Counter, WithSourceID(g.Source()))}, nil
}

// MediaGatherer 收集媒体转录。
type MediaGatherer struct{}

// NewMediaGatherer 创建新的 MediaGatherer。
func NewMediaGatherer() *MediaGatherer {
	return &MediaGatherer{}
}

func (g *MediaGatherer) Source() string     { return "media" }
func (g *MediaGatherer) Category() Category { return CategoryMediaTranscript }

// Gather 收集媒体转录，来源信息放在正文开头以便截断后仍保留。
func (g *MediaGatherer) Gather(_ context.Context, input *GatherInput) ([]*Fragment, error) {
	m := input.Request.MediaTranscript
	if m == nil || strings.TrimSpace(m.Text) == "" {
		return nil, nil
	}

	var b strings.Builder
	if m.URL != "" {
		b.WriteString("Source: " + m.URL)
		if m.WordCount > 0 {
			fmt.Fprintf(&b, " (%d words)", m.WordCount)
		}
		b.WriteString("\n\n")
	}
	b.WriteString(strings.TrimSpace(m.Text))

	return []*Fragment{NewFragment(CategoryMediaTranscript, b.String(), input.Counter, WithSourceID(m.URL))}, nil
}

// HistoryGatherer 通过 HistoryProvider 收集对话历史。
type HistoryGatherer struct{}

// NewHistoryGatherer 创建新的 HistoryGatherer。
func NewHistoryGatherer() *HistoryGatherer {
	return &HistoryGatherer{}
}

func (g *HistoryGatherer) Source() string     { return "history" }
func (g *HistoryGatherer) Category() Category { return CategoryConversationHistory }

// Gather 收集对话历史。
func (g *HistoryGatherer) Gather(ctx context.Context, input *GatherInput) ([]*Fragment, error) {
	history := input.Request.ConversationHistory
	if provider := input.Request.HistoryProvider; provider != nil {
		var err error
		history, err = provider(ctx)
		if err != nil {
			return nil, err
		}
	}

	history = strings.TrimSpace(history)
	if history == "" {
		return nil, nil
	}
	return []*Fragment{NewFragment(CategoryConversationHistory, history, input.Counter, WithSourceID(g.Source()))}, nil
}

// RetrievalGatherer 通过检索函数收集示例，结果并入 RetrievedExamples。
type RetrievalGatherer struct {
	// RetrieveFunc 是检索相关文档的函数。
	RetrieveFunc func(ctx context.Context, query string, topK int) ([]RetrievalResult, error)

	// TopK 是要检索的最大文档数量。
	TopK int
}

// RetrievalResult 表示一条检索结果。
type RetrievalResult struct {
	Title   string
	Content string
	Score   float64
	Source  string
}

// NewRetrievalGatherer 创建新的 RetrievalGatherer。
func NewRetrievalGatherer(retrieveFunc func(ctx context.Context, query string, topK int) ([]RetrievalResult, error), topK int) *RetrievalGatherer {
	if topK <= 0 {
		topK = 5
	}
	return &RetrievalGatherer{
		RetrieveFunc: retrieveFunc,
		TopK:         topK,
	}
}

func (g *RetrievalGatherer) Source() string     { return "retrieval" }
func (g *RetrievalGatherer) Category() Category { return CategoryRetrievedExamples }

// Gather 调用检索函数。
func (g *RetrievalGatherer) Gather(ctx context.Context, input *GatherInput) ([]*Fragment, error) {
	if g.RetrieveFunc == nil {
		return nil, nil
	}

	results, err := g.RetrieveFunc(ctx, input.Request.UserRequest, g.TopK)
	if err != nil {
		return nil, err
	}

	blocks := make([]Block, 0, len(results))
	for _, r := range results {
		if strings.TrimSpace(r.Content) == "" {
			continue
		}
		hint := clamp01(r.Score)
		title := r.Title
		if title == "" {
			title = r.Source
		}
		blocks = append(blocks, Block{Title: title, Text: r.Content, Hint: &hint})
	}
	if len(blocks) == 0 {
		return nil, nil
	}
	return []*Fragment{NewBlockFragment(CategoryRetrievedExamples, blocks, input.Counter, WithSourceID(g.Source()))}, nil
}

// GatherFailure 记录一个收集器的失败。
type GatherFailure struct {
	Source   string
	Category Category
	Err      error
}

// GatherReport 是一次收集的结果。
type GatherReport struct {
	// Fragments 按类别合并后的片段，顺序与 AllCategories 一致。
	Fragments []*Fragment

	// Failures 失败或超时的收集器，顺序与收集器顺序一致。
	Failures []GatherFailure

	// Err 调用方取消导致收集中止时非空。
	Err error
}

// CompositeGatherer 并行运行多个收集器，每个收集器有独立的超时。
type CompositeGatherer struct {
	gatherers []Gatherer
	timeout   time.Duration
	limit     int
	tracer    otel.Tracer
}

// CompositeOption 配置 CompositeGatherer。
type CompositeOption func(*CompositeGatherer)

// WithGatherLimit 限制同时运行的收集器数量，n <= 0 表示不限制。
func WithGatherLimit(n int) CompositeOption {
	return func(g *CompositeGatherer) {
		g.limit = n
	}
}

// WithGatherTracer 为每次来源调用创建 Client Span。
func WithGatherTracer(tracer otel.Tracer) CompositeOption {
	return func(g *CompositeGatherer) {
		g.tracer = tracer
	}
}

// NewCompositeGatherer 创建新的 CompositeGatherer，timeout <= 0 表示不限时。
func NewCompositeGatherer(gatherers []Gatherer, timeout time.Duration, opts ...CompositeOption) *CompositeGatherer {
	g := &CompositeGatherer{
		gatherers: gatherers,
		timeout:   timeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.tracer == nil {
		g.tracer = otel.NewNoopTracer()
	}
	return g
}

// DefaultGatherers 返回内置收集器。
func DefaultGatherers() []Gatherer {
	return []Gatherer{
		NewComplianceGatherer(),
		NewExamplesGatherer(),
		NewSummariesGatherer(),
		NewCurrentContentGatherer(),
		NewMediaGatherer(),
		NewHistoryGatherer(),
	}
}

// Gather 从所有收集器收集片段，失败的收集器以错误形式一并返回，
// 已收集到的片段仍然有效。
func (g *CompositeGatherer) Gather(ctx context.Context, input *GatherInput) ([]*Fragment, error) {
	report := g.Collect(ctx, input)
	if report.Err != nil {
		return report.Fragments, report.Err
	}

	errs := make([]error, 0, len(report.Failures))
	for _, f := range report.Failures {
		errs = append(errs, fmt.Errorf("%s: %w", f.Source, f.Err))
	}
	return report.Fragments, errors.Join(errs...)
}

// Collect 并行收集片段。单个收集器的失败、panic 或超时不影响其他收集器；
// 调用方取消 ctx 时，尚未开始的收集器直接记为失败。
func (g *CompositeGatherer) Collect(ctx context.Context, input *GatherInput) GatherReport {
	type slot struct {
		fragments []*Fragment
		err       error
	}
	slots := make([]slot, len(g.gatherers))

	eg, egCtx := errgroup.WithContext(ctx)
	if g.limit > 0 {
		eg.SetLimit(g.limit)
	}
	for i, gatherer := range g.gatherers {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				slots[i].err = fmt.Errorf("%w: %w", ErrCollaboratorUnavailable, context.Cause(egCtx))
				return err
			}
			frags, err := g.runOne(egCtx, i, gatherer, input)
			slots[i] = slot{fragments: frags, err: err}
			// 来源自身的失败不取消其他来源，只有调用方取消才中止整组
			return ctx.Err()
		})
	}

	var report GatherReport
	if err := eg.Wait(); err != nil {
		report.Err = fmt.Errorf("%w: gather aborted: %w", ErrCollaboratorUnavailable, err)
	}

	byCategory := make(map[Category][]*Fragment)
	for i, s := range slots {
		if s.err != nil {
			source, cat := describeGatherer(g.gatherers[i], i)
			report.Failures = append(report.Failures, GatherFailure{Source: source, Category: cat, Err: s.err})
			continue
		}
		for _, f := range s.fragments {
			if f.IsEmpty() || !f.Category.IsValid() {
				continue
			}
			byCategory[f.Category] = append(byCategory[f.Category], f)
		}
	}

	for _, cat := range AllCategories() {
		if frags := byCategory[cat]; len(frags) > 0 {
			report.Fragments = append(report.Fragments, mergeFragments(frags, input.Counter))
		}
	}
	return report
}

// runOne 在超时内运行单个收集器。收集器忽略上下文时不会阻塞调用方。
func (g *CompositeGatherer) runOne(ctx context.Context, index int, gatherer Gatherer, input *GatherInput) (_ []*Fragment, err error) {
	source, cat := describeGatherer(gatherer, index)
	ctx, span := g.tracer.Start(ctx, otel.SpanContextGather,
		otel.WithSpanKind(otel.SpanKindClient),
		otel.WithAttributes(otel.ContextSource(source), otel.ContextCategory(string(cat))),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otel.StatusError, err.Error())
		} else {
			span.SetStatus(otel.StatusOK, "")
		}
		span.End()
	}()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	type outcome struct {
		fragments []*Fragment
		err       error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: gatherer panic: %v", ErrCollaboratorUnavailable, r)}
			}
		}()
		fragments, gatherErr := gatherer.Gather(ctx, input)
		done <- outcome{fragments: fragments, err: gatherErr}
	}()

	select {
	case out := <-done:
		if out.err != nil && !errors.Is(out.err, ErrCollaboratorUnavailable) {
			out.err = fmt.Errorf("%w: %w", ErrCollaboratorUnavailable, out.err)
		}
		return out.fragments, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrCollaboratorUnavailable, ctx.Err())
	}
}

func describeGatherer(g Gatherer, index int) (string, Category) {
	if s, ok := g.(sourced); ok {
		return s.Source(), s.Category()
	}
	return fmt.Sprintf("gatherer[%d]", index), ""
}

// 编译时接口检查
var _ Gatherer = (*ComplianceGatherer)(nil)
var _ Gatherer = (*ExamplesGatherer)(nil)
var _ Gatherer = (*SummariesGatherer)(nil)
var _ Gatherer = (*CurrentContentGatherer)(nil)
var _ Gatherer = (*MediaGatherer)(nil)
var _ Gatherer = (*HistoryGatherer)(nil)
var _ Gatherer = (*RetrievalGatherer)(nil)
var _ Gatherer = (*CompositeGatherer)(nil)
