package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	agentctx "github.com/easyops/contextbudget/pkg/context"
	"github.com/easyops/contextbudget/pkg/core/config"
	coreerrors "github.com/easyops/contextbudget/pkg/core/errors"
	"github.com/easyops/contextbudget/pkg/otel"
)

// TokenLimitSlack 结果总量超出 TargetInputTokens 的容忍比例，超出视为失败。
const TokenLimitSlack = 1.05

// maxRetryInterval 单次重试等待的上限
const maxRetryInterval = 30 * time.Second

// Attempt 记录一次流水线调用
type Attempt struct {
	Pipeline string        `json:"pipeline"`
	Try      int           `json:"try"`
	Kind     Kind          `json:"kind"`
	Action   Action        `json:"action"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Trace 记录一次 Run 的全部尝试
type Trace struct {
	// Attempts 按时间顺序排列的尝试
	Attempts []Attempt `json:"attempts"`
	// Pipeline 最终成功的流水线，全部失败时为空
	Pipeline string `json:"pipeline,omitempty"`
}

// Retries 返回重试次数
func (t *Trace) Retries() int {
	n := 0
	for _, a := range t.Attempts {
		if a.Try > 1 {
			n++
		}
	}
	return n
}

// Runner 按顺序尝试流水线
type Runner struct {
	pipelines  []Pipeline
	maxRetries int
	retryDelay time.Duration
	logger     otel.Logger
	tracer     otel.Tracer
	metrics    otel.Metrics
}

// RunnerOption 配置 Runner
type RunnerOption func(*Runner)

// WithMaxRetries 设置暂时性错误的最大重试次数
func WithMaxRetries(n int) RunnerOption {
	return func(r *Runner) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithRetryDelay 设置重试间隔基数
func WithRetryDelay(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.retryDelay = d
		}
	}
}

// WithLogger 设置日志器
func WithLogger(logger otel.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithTracer 设置追踪器
func WithTracer(tracer otel.Tracer) RunnerOption {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(metrics otel.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = metrics
	}
}

// NewRunner 创建 Runner
func NewRunner(pipelines []Pipeline, opts ...RunnerOption) *Runner {
	r := &Runner{
		pipelines:  pipelines,
		maxRetries: 2,
		retryDelay: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = otel.GetLogger()
	}
	if r.tracer == nil {
		r.tracer = otel.GetTracer()
	}
	if r.metrics == nil {
		r.metrics = otel.GetMetrics()
	}
	return r
}

// NewRunnerFromConfig 按配置创建 Runner，流水线均由 assembler 执行
func NewRunnerFromConfig(assembler *agentctx.Assembler, cfg config.StrategyConfig, opts ...RunnerOption) (*Runner, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", coreerrors.ErrInvalidConfig, err)
	}
	pipelines, err := PipelinesFor(assembler, cfg.Pipelines)
	if err != nil {
		return nil, err
	}
	base := []RunnerOption{WithMaxRetries(cfg.MaxRetries), WithRetryDelay(cfg.RetryDelay)}
	return NewRunner(pipelines, append(base, opts...)...), nil
}

// Run 依次尝试流水线，返回第一个成功的结果和尝试记录。
//
// 暂时性错误在同一流水线内重试；重试耗尽或可降级错误进入下一条流水线；
// 致命错误跳到最后一条流水线。nil 请求直接返回错误。
func (r *Runner) Run(ctx context.Context, req *agentctx.Request) (*agentctx.AssemblyResult, *Trace, error) {
	trace := &Trace{}
	if req == nil {
		return nil, trace, fmt.Errorf("%w: nil request", coreerrors.ErrInvalidRequest)
	}
	if len(r.pipelines) == 0 {
		return nil, trace, coreerrors.ErrNoPipeline
	}

	ctx, span := r.tracer.Start(ctx, otel.SpanStrategyRun)
	defer span.End()
	logger := r.logger.WithContext(ctx)

	var lastErr error
	for i := 0; i < len(r.pipelines); {
		p := r.pipelines[i]
		result, err := r.runWithRetry(ctx, p, req, trace, span)
		if err == nil {
			trace.Pipeline = p.Name()
			span.SetAttributes(otel.StrategyPipeline(p.Name()))
			span.SetStatus(otel.StatusOK, "")
			return result, trace, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			span.RecordError(ctxErr)
			span.SetStatus(otel.StatusError, ctxErr.Error())
			return nil, trace, fmt.Errorf("%w: %w", coreerrors.ErrContextCanceled, ctxErr)
		}

		next := i + 1
		if Classify(err) == KindFatal && next < len(r.pipelines)-1 {
			next = len(r.pipelines) - 1
		}
		if next < len(r.pipelines) {
			logger.Warn("pipeline failed, degrading",
				"pipeline", p.Name(),
				"next", r.pipelines[next].Name(),
				"error", err,
			)
			r.metrics.Counter(otel.MetricStrategyDegrades).Add(ctx, 1,
				otel.NewAttr(otel.AttrStrategyPipeline, p.Name()),
			)
		}
		i = next
	}

	err := fmt.Errorf("%w: %w", coreerrors.ErrNoPipeline, lastErr)
	span.RecordError(err)
	span.SetStatus(otel.StatusError, err.Error())
	return nil, trace, err
}

// runWithRetry 在单条流水线内重试暂时性错误
func (r *Runner) runWithRetry(ctx context.Context, p Pipeline, req *agentctx.Request, trace *Trace, span otel.Span) (*agentctx.AssemblyResult, error) {
	try := 0
	operation := func() (*agentctx.AssemblyResult, error) {
		try++
		start := time.Now()
		result, err := r.runOnce(ctx, p, req)
		kind := Classify(err)

		attempt := Attempt{
			Pipeline: p.Name(),
			Try:      try,
			Kind:     kind,
			Action:   kind.Action(),
			Duration: time.Since(start),
		}
		if err != nil {
			attempt.Error = err.Error()
		}
		trace.Attempts = append(trace.Attempts, attempt)

		r.metrics.Counter(otel.MetricStrategyAttempts).Add(ctx, 1,
			otel.NewAttr(otel.AttrStrategyPipeline, p.Name()),
			otel.NewAttr(otel.AttrStrategyAction, string(attempt.Action)),
		)
		span.AddEvent("attempt", otel.StrategyAttempt(p.Name(), try, string(attempt.Action))...)

		if err == nil {
			return result, nil
		}
		span.AddEvent("attempt_failed", otel.ErrorAttrs(string(kind), err.Error(), kind == KindTransient)...)
		if kind != KindTransient {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retryDelay
	b.MaxInterval = maxRetryInterval

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.maxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.logger.Warn("pipeline attempt failed, retrying",
				"pipeline", p.Name(),
				"attempt", try,
				"wait", wait,
				"error", err,
			)
			r.metrics.Counter(otel.MetricStrategyRetries).Add(ctx, 1,
				otel.NewAttr(otel.AttrStrategyPipeline, p.Name()),
			)
		}),
	)
}

// runOnce 执行一次流水线，panic 和超量结果都转换为错误
func (r *Runner) runOnce(ctx context.Context, p Pipeline, req *agentctx.Request) (result *agentctx.AssemblyResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result, err = nil, fmt.Errorf("%w: pipeline %s panic: %v", coreerrors.ErrAssemblyFailed, p.Name(), rec)
		}
	}()

	result, err = p.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("%w: pipeline %s returned no result", coreerrors.ErrAssemblyFailed, p.Name())
	}
	if limit := int(float64(agentctx.TargetInputTokens) * TokenLimitSlack); result.TotalTokens > limit {
		return nil, fmt.Errorf("%w: %d tokens exceeds %d", coreerrors.ErrTokenLimitExceeded, result.TotalTokens, limit)
	}
	return result, nil
}

// IsExhausted 返回错误是否表示所有流水线都已失败
func IsExhausted(err error) bool {
	return errors.Is(err, coreerrors.ErrNoPipeline)
}
