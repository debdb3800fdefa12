package context

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/easyops/contextbudget/pkg/otel"
)

// Assembler 是上下文组装的编排器。
//
// 状态流转：Classify → Plan → Gather → Score&Rank → Fit →
// EmergencyCompress（可选）→ Finalize。Assembler 本身不持有调用间的可变状态，
// 可以被并发调用。
type Assembler struct {
	config     *Config
	scorer     Scorer
	compressor CompressorFactory
	gatherers  []Gatherer
	logger     otel.Logger
	tracer     otel.Tracer
	metrics    otel.Metrics
}

// AssemblerOption 配置 Assembler。
type AssemblerOption func(*Assembler)

// WithConfig 设置配置。保存的是副本，之后修改 config 不影响组装器。
func WithConfig(config *Config) AssemblerOption {
	return func(a *Assembler) {
		if config != nil {
			a.config = config.clone()
		}
	}
}

// WithScorer 设置相关性评分器。
func WithScorer(scorer Scorer) AssemblerOption {
	return func(a *Assembler) {
		a.scorer = scorer
	}
}

// WithCompressor 设置压缩器工厂。
func WithCompressor(factory CompressorFactory) AssemblerOption {
	return func(a *Assembler) {
		a.compressor = factory
	}
}

// WithGatherers 追加内置收集器之外的收集器。
func WithGatherers(gatherers ...Gatherer) AssemblerOption {
	return func(a *Assembler) {
		a.gatherers = append(a.gatherers, gatherers...)
	}
}

// WithLogger 设置日志器。
func WithLogger(logger otel.Logger) AssemblerOption {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// WithTracer 设置追踪器。
func WithTracer(tracer otel.Tracer) AssemblerOption {
	return func(a *Assembler) {
		a.tracer = tracer
	}
}

// WithMetrics 设置指标收集器。
func WithMetrics(metrics otel.Metrics) AssemblerOption {
	return func(a *Assembler) {
		a.metrics = metrics
	}
}

// NewAssembler 使用给定选项创建新的 Assembler。
func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		config: DefaultConfig(),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.scorer == nil {
		a.scorer = NewRelevanceScorer()
	}
	if a.compressor == nil {
		a.compressor = DefaultCompressorFactory()
	}
	if a.logger == nil {
		a.logger = otel.GetLogger()
	}
	if a.tracer == nil {
		a.tracer = otel.GetTracer()
	}
	if a.metrics == nil {
		a.metrics = otel.GetMetrics()
	}

	return a
}

// Config 返回组装器的配置。
func (a *Assembler) Config() *Config {
	return a.config
}

// Assemble 使用配置中的模式组装上下文。
//
// 只有 req 为 nil 时返回错误；其他任何失败都降级为更简单的结果，
// 最差情况下返回只包含 SystemPrompt 和 UserInput 的结果。
func (a *Assembler) Assemble(ctx context.Context, req *Request) (*AssemblyResult, error) {
	return a.AssembleWithMode(ctx, req, a.config.Mode)
}

// AssembleWithMode 使用指定模式组装上下文。
func (a *Assembler) AssembleWithMode(ctx context.Context, req *Request, mode Mode) (*AssemblyResult, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}

	start := time.Now()
	ctx, span := a.tracer.Start(ctx, otel.SpanContextAssemble,
		otel.WithAttributes(otel.ContextMode(string(mode))),
	)
	defer span.End()
	logger := a.logger.WithContext(ctx)

	var result *AssemblyResult
	if mode == ModeMinimal {
		result = a.minimal(req, nil)
	} else {
		result = a.safeRun(ctx, req, mode, logger, span)
	}
	result.Duration = time.Since(start)

	a.record(ctx, span, result)
	logger.Debug("context assembled",
		"id", result.ID,
		"request_type", result.RequestType,
		"mode", result.Mode,
		"total_tokens", result.TotalTokens,
		"optimization_applied", result.OptimizationApplied,
		"degradations", len(result.Degradations),
		"duration", result.Duration,
	)
	return result, nil
}

// safeRun 运行完整流水线，panic 时返回最小结果。
func (a *Assembler) safeRun(ctx context.Context, req *Request, mode Mode, logger otel.Logger, span otel.Span) (result *AssemblyResult) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: panic: %v", ErrAssemblyFailed, r)
			logger.Error("context assembly failed, falling back to minimal prompt", "error", err)
			span.RecordError(err)
			result = a.minimal(req, []Degradation{newDegradation(KindAssemblyFailed, "", "assembler", err)})
		}
	}()

	run := &assembly{
		a:       a,
		cfg:     a.config,
		mode:    mode,
		logger:  logger,
		span:    span,
		counter: NewFallbackCounter(tokenizerFor(req, a.config)),
		reports: make(map[Category]*FragmentReport),
	}
	run.compressor = a.compressor(run.counter, a.config)
	return run.execute(ctx, req)
}

// minimal 返回只包含 SystemPrompt 和 UserInput 的结果。
func (a *Assembler) minimal(req *Request, degradations []Degradation) *AssemblyResult {
	counter := NewFallbackCounter(tokenizerFor(req, a.config))
	cls := Classify(req.UserRequest, req.CurrentContent)

	included := map[Category]*Fragment{
		CategorySystemPrompt: NewFragment(CategorySystemPrompt, systemPromptFor(req, a.config), counter),
	}
	if strings.TrimSpace(req.UserRequest) != "" {
		included[CategoryUserInput] = NewFragment(CategoryUserInput, req.UserRequest, counter)
	}

	sections := orderSections(included)
	text := renderSections(sections)
	result := &AssemblyResult{
		ID:                uuid.NewString(),
		FinalText:         text,
		TotalTokens:       counter.Count(text),
		RequestType:       cls.Type,
		Mode:              ModeMinimal,
		PerCategoryTokens: make(map[Category]int, len(included)),
		Budget:            Plan(cls.Type, counter.Count(req.UserRequest)),
		Sections:          sections,
		Ambiguous:         cls.Ambiguous,
		Degradations:      degradations,
	}
	for cat, f := range included {
		result.PerCategoryTokens[cat] = f.RawTokens
	}
	if counter.Degraded() {
		result.TokenizerFallback = true
		result.Degradations = append(result.Degradations,
			newDegradation(KindTokenizerUnavailable, "", "tokenizer", counter.Err()))
	}
	return result
}

// record 记录指标和 Span 属性。
func (a *Assembler) record(ctx context.Context, span otel.Span, r *AssemblyResult) {
	attrs := []otel.Attr{
		otel.NewAttr(otel.AttrContextRequestType, string(r.RequestType)),
		otel.NewAttr(otel.AttrContextMode, string(r.Mode)),
	}

	a.metrics.Counter(otel.MetricContextAssemblies).Add(ctx, 1, attrs...)
	a.metrics.Histogram(otel.MetricContextAssemblyDuration).Record(ctx, float64(r.Duration.Milliseconds()), attrs...)
	a.metrics.Counter(otel.MetricContextTokensTotal).Add(ctx, int64(r.TotalTokens), attrs...)
	if r.EmergencyRounds > 0 {
		a.metrics.Counter(otel.MetricContextEmergencyRounds).Add(ctx, int64(r.EmergencyRounds), attrs...)
	}
	for _, f := range r.Fragments {
		if f.Compressed {
			a.metrics.Counter(otel.MetricContextCompressions).Add(ctx, 1,
				otel.NewAttr(otel.AttrContextCategory, string(f.Category)),
				otel.NewAttr(otel.AttrContextStrategy, string(f.Strategy)),
			)
		}
	}
	for _, d := range r.Degradations {
		a.metrics.Counter(otel.MetricContextDegradations).Add(ctx, 1,
			otel.NewAttr(otel.AttrContextDegradation, string(d.Kind)),
		)
	}
	if r.Quality != nil {
		a.metrics.Gauge(otel.MetricContextQuality).Set(ctx, r.Quality.OverallQuality, attrs...)
	}

	span.SetAttributes(
		otel.ContextRequestType(string(r.RequestType)),
		otel.ContextMode(string(r.Mode)),
		otel.ContextTotalTokens(r.TotalTokens),
		otel.ContextOptimized(r.OptimizationApplied),
		otel.ContextEmergencyRounds(r.EmergencyRounds),
	)
	span.SetStatus(otel.StatusOK, "")
}

// assembly 保存一次组装调用的状态，调用结束即丢弃。
type assembly struct {
	a          *Assembler
	cfg        *Config
	mode       Mode
	logger     otel.Logger
	span       otel.Span
	counter    *FallbackCounter
	compressor Compressor

	result  *AssemblyResult
	order   []Category
	reports map[Category]*FragmentReport
}

func (s *assembly) execute(ctx context.Context, raw *Request) *AssemblyResult {
	s.result = &AssemblyResult{
		ID:                uuid.NewString(),
		PerCategoryTokens: make(map[Category]int),
	}

	req, issues := raw.Sanitize()
	for _, issue := range issues {
		s.degrade(newDegradation(KindInvalidInput, "", "request", errors.New(issue)))
	}
	if strings.TrimSpace(req.UserRequest) == "" {
		s.degrade(newDegradation(KindInvalidInput, CategoryUserInput, "request", errors.New("user_request is empty")))
	}

	// Classify
	cls := Classify(req.UserRequest, req.CurrentContent)
	s.result.RequestType = cls.Type
	s.result.Ambiguous = cls.Ambiguous
	if cls.Ambiguous {
		s.degrade(newDegradation(KindClassificationAmbiguous, "", "classifier",
			errors.New("no keyword matched, using conversation budget")))
	}
	s.span.AddEvent("classify", otel.ContextRequestType(string(cls.Type)))

	// Plan
	budget := Plan(cls.Type, s.counter.Count(req.UserRequest))
	s.result.Budget = budget
	if budget.Overcommitted() {
		s.logger.Warn("user input exceeds context window", "deficit", budget.Deficit)
	}
	s.span.AddEvent("plan")

	// Gather
	candidates := s.mandatory(req)
	candidates = append(candidates, s.gather(ctx, req)...)
	s.span.AddEvent("gather")

	// Score & Rank
	scored := s.score(candidates, req.UserRequest)
	weights := s.cfg.Weights
	if s.mode != ModeAdvanced {
		weights.Relevance = 0
	}
	ranked := Rank(scored, weights)
	s.span.AddEvent("score_rank")

	// Fit
	included := s.fit(ranked, budget, weights)
	s.span.AddEvent("fit")

	// EmergencyCompress
	s.emergency(included)

	// Finalize
	s.finalize(req, scored, included)
	s.span.AddEvent("finalize")

	return s.result
}

// mandatory 创建 SystemPrompt 和 UserInput 片段。
func (s *assembly) mandatory(req *Request) []*Fragment {
	frags := []*Fragment{
		NewFragment(CategorySystemPrompt, systemPromptFor(req, s.cfg), s.counter, WithSourceID("system")),
	}
	if strings.TrimSpace(req.UserRequest) != "" {
		frags = append(frags, NewFragment(CategoryUserInput, req.UserRequest, s.counter, WithSourceID("user")))
	}
	return frags
}

// gather 并行调用收集器，失败的来源视为缺失。
func (s *assembly) gather(ctx context.Context, req *Request) []*Fragment {
	gatherers := append(DefaultGatherers(), s.a.gatherers...)
	composite := NewCompositeGatherer(gatherers, s.cfg.GatherTimeout,
		WithGatherLimit(s.cfg.GatherConcurrency),
		WithGatherTracer(s.a.tracer),
	)

	report := composite.Collect(ctx, &GatherInput{Request: req, Counter: s.counter})
	if report.Err != nil {
		s.logger.Warn("context gathering aborted", "error", report.Err)
	}
	for _, failure := range report.Failures {
		s.logger.Warn("context source unavailable",
			"source", failure.Source,
			"category", failure.Category,
			"error", failure.Err,
		)
		s.degrade(newDegradation(KindCollaboratorUnavailable, failure.Category, failure.Source, failure.Err))
	}
	return report.Fragments
}

// score 在高级模式下计算相关性。评分器 panic 时回退到基础模式。
func (s *assembly) score(frags []*Fragment, request string) (out []*Fragment) {
	if s.mode != ModeAdvanced {
		return frags
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: scorer panic: %v", ErrScoringUnavailable, r)
			s.logger.Warn("relevance scoring failed, using static priority only", "error", err)
			s.degrade(newDegradation(KindScoringUnavailable, "", "scorer", err))
			s.mode = ModeBasic
			out = frags
		}
	}()

	out = make([]*Fragment, 0, len(frags))
	for _, f := range frags {
		if f.Category.IsMandatory() {
			out = append(out, f.withScore(1.0, nil, s.counter))
			continue
		}
		out = append(out, s.scoreFragment(f, request))
	}
	return out
}

// scoreFragment 计算片段分数，条目有相关性提示时按 0.6/0.4 混合。
// 示例和摘要的条目按相关性降序排列，合规来源保持原顺序。
func (s *assembly) scoreFragment(f *Fragment, request string) *Fragment {
	score := s.a.scorer.Score(f.Text, request, f.Category)
	if len(f.Blocks) == 0 {
		return f.withScore(score, nil, s.counter)
	}

	blocks := make([]Block, len(f.Blocks))
	var hintSum float64
	hints := 0
	for i, b := range f.Blocks {
		rel := s.a.scorer.Score(b.Render(), request, f.Category)
		if b.Hint != nil {
			rel = 0.6*rel + 0.4*clamp01(*b.Hint)
			hintSum += clamp01(*b.Hint)
			hints++
		}
		b.Relevance = clamp01(rel)
		blocks[i] = b
	}
	if hints > 0 {
		score = 0.6*score + 0.4*(hintSum/float64(hints))
	}

	if f.Category == CategoryRetrievedExamples || f.Category == CategoryDocumentSummaries {
		sort.SliceStable(blocks, func(i, j int) bool {
			return blocks[i].Relevance > blocks[j].Relevance
		})
	}
	return f.withScore(score, blocks, s.counter)
}

// fit 按优先级顺序把片段放入各自类别的预算，类别之间不借用预算。
func (s *assembly) fit(ranked []*Fragment, budget TokenBudget, weights ScoringWeights) map[Category]*Fragment {
	included := make(map[Category]*Fragment)

	for _, f := range ranked {
		rep := &FragmentReport{
			Category:       f.Category,
			SourceID:       f.SourceID,
			OriginalTokens: f.RawTokens,
			Relevance:      f.Relevance,
			PriorityScore:  PriorityScore(f.Category, f.Relevance, weights),
		}
		s.order = append(s.order, f.Category)
		s.reports[f.Category] = rep

		if f.Category.IsMandatory() {
			included[f.Category] = f
			rep.Included = true
			continue
		}

		limit := budget.For(f.Category)
		if limit <= 0 {
			rep.Reason = "no budget for category"
			s.result.OptimizationApplied = true
			continue
		}

		if f.RawTokens <= limit {
			included[f.Category] = f
			rep.Included = true
			continue
		}

		if limit < s.cfg.ViabilityFloor {
			s.degrade(newDegradation(KindBudgetExhausted, f.Category, "planner",
				fmt.Errorf("budget %d below viability floor %d", limit, s.cfg.ViabilityFloor)))
		}
		compressed := s.compressor.Compress(f, limit, f.Category)
		included[f.Category] = compressed
		rep.Included = true
		rep.Compressed = compressed.Compressed
		rep.Strategy = StrategyFor(f.Category)
		s.result.OptimizationApplied = true
	}
	return included
}

// emergency 在总量超出 TargetInputTokens 时按固定顺序逐轮缩减片段。
func (s *assembly) emergency(included map[Category]*Fragment) {
	total := s.counter.Count(renderSections(orderSections(included)))
	if total <= TargetInputTokens {
		return
	}

	s.result.OptimizationApplied = true
	floor := s.cfg.ViabilityFloor

	for round := 0; round < s.cfg.MaxEmergencyRounds && total > TargetInputTokens; round++ {
		progress := false
		for _, cat := range EmergencyOrder() {
			if total <= TargetInputTokens {
				break
			}
			f, ok := included[cat]
			if !ok {
				continue
			}

			current := f.RawTokens
			target := int(float64(current) * (1 - s.cfg.EmergencyShrink))
			if target < floor {
				target = floor
			}
			if target >= current {
				continue
			}

			shrunk := s.compressor.Compress(f, target, cat)
			if shrunk.RawTokens >= current {
				continue
			}
			included[cat] = shrunk
			total -= current - shrunk.RawTokens
			progress = true

			if rep := s.reports[cat]; rep != nil {
				rep.Compressed = true
				rep.Strategy = StrategyFor(cat)
				rep.Reason = "emergency compression"
			}
		}

		s.result.EmergencyRounds++
		total = s.counter.Count(renderSections(orderSections(included)))
		s.logger.Info("emergency compression round",
			"round", s.result.EmergencyRounds,
			"total_tokens", total,
			"target", TargetInputTokens,
		)
		s.span.AddEvent("emergency_round", otel.ContextTotalTokens(total))

		if !progress {
			break
		}
	}

	if total > TargetInputTokens {
		s.logger.Warn("assembled prompt still exceeds target after emergency compression",
			"total_tokens", total, "target", TargetInputTokens)
	}
}

// finalize 按展示顺序拼接并对最终字符串重新计数。
func (s *assembly) finalize(req *Request, candidates []*Fragment, included map[Category]*Fragment) {
	r := s.result
	r.Mode = s.mode
	r.Sections = orderSections(included)
	r.FinalText = renderSections(r.Sections)
	r.TotalTokens = s.counter.Count(r.FinalText)

	for cat, f := range included {
		r.PerCategoryTokens[cat] = f.RawTokens
	}
	for _, cat := range s.order {
		rep := s.reports[cat]
		if f, ok := included[cat]; ok {
			rep.FinalTokens = f.RawTokens
		}
		r.Fragments = append(r.Fragments, *rep)
	}

	if s.mode == ModeAdvanced {
		r.Quality = computeQuality(candidates, included)
	}

	if s.counter.Degraded() {
		r.TokenizerFallback = true
		s.logger.Warn("tokenizer failed, counts use character estimate", "error", s.counter.Err())
		s.degrade(newDegradation(KindTokenizerUnavailable, "", "tokenizer", s.counter.Err()))
	}

	if s.cfg.ComputeDigest {
		digest, err := req.Digest()
		if err != nil {
			s.logger.Warn("request digest failed", "error", err)
		} else {
			r.InputDigest = digest
		}
	}
}

func (s *assembly) degrade(d Degradation) {
	s.result.Degradations = append(s.result.Degradations, d)
}

// tokenizerFor 返回请求注入的分词函数或配置中的计数器。
func tokenizerFor(req *Request, cfg *Config) TokenizerFunc {
	if req.Tokenizer != nil {
		return req.Tokenizer
	}
	return CounterFunc(cfg.GetTokenCounter())
}

// systemPromptFor 返回请求或配置中的系统提示。
func systemPromptFor(req *Request, cfg *Config) string {
	if p := strings.TrimSpace(req.SystemPrompt); p != "" {
		return p
	}
	if p := strings.TrimSpace(cfg.SystemPrompt); p != "" {
		return p
	}
	return defaultSystemPrompt
}
