package strategy

import (
	"context"
	"fmt"

	agentctx "github.com/easyops/contextbudget/pkg/context"
	coreerrors "github.com/easyops/contextbudget/pkg/core/errors"
)

// Pipeline 一条组装流水线
type Pipeline interface {
	// Name 返回流水线名称
	Name() string
	// Run 执行组装
	Run(ctx context.Context, req *agentctx.Request) (*agentctx.AssemblyResult, error)
}

// ModePipeline 以固定模式调用 Assembler
type ModePipeline struct {
	assembler *agentctx.Assembler
	mode      agentctx.Mode
}

// NewModePipeline 创建以指定模式运行的流水线
func NewModePipeline(assembler *agentctx.Assembler, mode agentctx.Mode) *ModePipeline {
	return &ModePipeline{assembler: assembler, mode: mode}
}

// Name 返回模式名称
func (p *ModePipeline) Name() string {
	return string(p.mode)
}

// Run 执行组装
func (p *ModePipeline) Run(ctx context.Context, req *agentctx.Request) (*agentctx.AssemblyResult, error) {
	return p.assembler.AssembleWithMode(ctx, req, p.mode)
}

// PipelinesFor 按名称创建流水线列表
func PipelinesFor(assembler *agentctx.Assembler, names []string) ([]Pipeline, error) {
	pipelines := make([]Pipeline, 0, len(names))
	for _, name := range names {
		mode := agentctx.Mode(name)
		switch mode {
		case agentctx.ModeAdvanced, agentctx.ModeBasic, agentctx.ModeMinimal:
		default:
			return nil, fmt.Errorf("%w: unknown pipeline %q", coreerrors.ErrInvalidConfig, name)
		}
		pipelines = append(pipelines, NewModePipeline(assembler, mode))
	}
	return pipelines, nil
}

// PipelineFunc 将函数适配为 Pipeline
type PipelineFunc struct {
	name string
	fn   func(ctx context.Context, req *agentctx.Request) (*agentctx.AssemblyResult, error)
}

// NewPipelineFunc 创建函数流水线
func NewPipelineFunc(name string, fn func(ctx context.Context, req *agentctx.Request) (*agentctx.AssemblyResult, error)) *PipelineFunc {
	return &PipelineFunc{name: name, fn: fn}
}

func (p *PipelineFunc) Name() string { return p.name }

func (p *PipelineFunc) Run(ctx context.Context, req *agentctx.Request) (*agentctx.AssemblyResult, error) {
	return p.fn(ctx, req)
}

// compile-time interface check
var (
	_ Pipeline = (*ModePipeline)(nil)
	_ Pipeline = (*PipelineFunc)(nil)
)
