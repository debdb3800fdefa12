package context

import (
	"fmt"
	"time"

	"github.com/easyops/contextbudget/pkg/core/config"
	coreerrors "github.com/easyops/contextbudget/pkg/core/errors"
	"github.com/easyops/contextbudget/pkg/otel"
)

// Mode 组装模式。
type Mode string

const (
	// ModeAdvanced 静态优先级 + 相关性评分 + 质量指标。
	ModeAdvanced Mode = "advanced"

	// ModeBasic 只使用静态优先级，是评分无法运行时的回退。
	ModeBasic Mode = "basic"

	// ModeMinimal 只包含 SystemPrompt 和 UserInput。
	ModeMinimal Mode = "minimal"
)

// defaultSystemPrompt 请求和配置都未提供系统提示时使用。
const defaultSystemPrompt = "You are a helpful writing assistant. Use the context sections below to answer the user's request accurately and keep all compliance language intact."

// Config 保存上下文组装的配置，在调用时传入，不使用进程级全局状态。
type Config struct {
	// Mode 组装模式，默认 ModeAdvanced。
	Mode Mode

	// Weights 优先级分数权重。
	Weights ScoringWeights

	// ViabilityFloor 压缩目标低于该值时输出占位提示。
	ViabilityFloor int

	// OverflowTolerance 压缩结果允许超出目标的比例。
	OverflowTolerance float64

	// EmergencyShrink 紧急压缩每轮缩减的比例。
	EmergencyShrink float64

	// MaxEmergencyRounds 紧急压缩最大轮数。
	MaxEmergencyRounds int

	// GatherTimeout 单个收集器的超时。
	GatherTimeout time.Duration

	// GatherConcurrency 同时运行的收集器上限，0 表示不限制。
	GatherConcurrency int

	// TokenCounter 请求未注入分词函数时使用的计数器。
	TokenCounter TokenCounter

	// SystemPrompt 默认系统提示。
	SystemPrompt string

	// ComputeDigest 是否在结果中记录输入摘要。
	ComputeDigest bool
}

// ConfigOption 配置 Config。
type ConfigOption func(*Config)

// WithMode 设置组装模式。
func WithMode(mode Mode) ConfigOption {
	return func(c *Config) {
		c.Mode = mode
	}
}

// WithScoringWeights 设置优先级与相关性权重。
func WithScoringWeights(priority, relevance float64) ConfigOption {
	return func(c *Config) {
		c.Weights = ScoringWeights{Priority: priority, Relevance: relevance}
	}
}

// WithViabilityFloor 设置可用下限。
func WithViabilityFloor(tokens int) ConfigOption {
	return func(c *Config) {
		c.ViabilityFloor = tokens
	}
}

// WithEmergency 设置紧急压缩参数。
func WithEmergency(shrink float64, maxRounds int) ConfigOption {
	return func(c *Config) {
		c.EmergencyShrink = shrink
		c.MaxEmergencyRounds = maxRounds
	}
}

// WithGatherTimeout 设置单个收集器的超时。
func WithGatherTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.GatherTimeout = d
	}
}

// WithGatherConcurrency 限制同时运行的收集器数量。
func WithGatherConcurrency(n int) ConfigOption {
	return func(c *Config) {
		c.GatherConcurrency = n
	}
}

// WithTokenCounter 设置 Token 计数器。
func WithTokenCounter(counter TokenCounter) ConfigOption {
	return func(c *Config) {
		c.TokenCounter = counter
	}
}

// WithSystemPrompt 设置默认系统提示。
func WithSystemPrompt(prompt string) ConfigOption {
	return func(c *Config) {
		c.SystemPrompt = prompt
	}
}

// WithDigest 启用或禁用输入摘要。
func WithDigest(enabled bool) ConfigOption {
	return func(c *Config) {
		c.ComputeDigest = enabled
	}
}

// DefaultConfig 返回具有合理默认值的 Config。
// 默认计数器为字符估算，不依赖网络下载编码表。
func DefaultConfig() *Config {
	return &Config{
		Mode:               ModeAdvanced,
		Weights:            DefaultScoringWeights(),
		ViabilityFloor:     500,
		OverflowTolerance:  1.2,
		EmergencyShrink:    0.3,
		MaxEmergencyRounds: 20,
		GatherTimeout:      5 * time.Second,
		TokenCounter:       NewEstimatedCounter(),
		SystemPrompt:       defaultSystemPrompt,
	}
}

// NewConfig 使用给定选项创建新的 Config。
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Validate 验证配置。
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAdvanced, ModeBasic, ModeMinimal:
	default:
		return fmt.Errorf("%w: unknown mode %q", coreerrors.ErrInvalidConfig, c.Mode)
	}
	if c.Weights.Relevance < 0 || c.Weights.Priority < c.Weights.Relevance {
		return fmt.Errorf("%w: priority weight %.2f must be >= relevance weight %.2f",
			coreerrors.ErrInvalidConfig, c.Weights.Priority, c.Weights.Relevance)
	}
	if c.ViabilityFloor < 0 {
		return fmt.Errorf("%w: negative viability floor", coreerrors.ErrInvalidConfig)
	}
	if c.OverflowTolerance < 1 {
		return fmt.Errorf("%w: overflow tolerance must be >= 1", coreerrors.ErrInvalidConfig)
	}
	if c.EmergencyShrink <= 0 || c.EmergencyShrink >= 1 {
		return fmt.Errorf("%w: emergency shrink must be in (0,1)", coreerrors.ErrInvalidConfig)
	}
	if c.GatherConcurrency < 0 {
		return fmt.Errorf("%w: negative gather concurrency", coreerrors.ErrInvalidConfig)
	}
	return nil
}

// GetTokenCounter 返回配置的 Token 计数器或估算计数器。
func (c *Config) GetTokenCounter() TokenCounter {
	if c.TokenCounter != nil {
		return c.TokenCounter
	}
	return NewEstimatedCounter()
}

// clone 返回配置的浅拷贝。
func (c *Config) clone() *Config {
	out := *c
	return &out
}

// ConfigFromSettings 将加载的配置文件设置转换为引擎配置。
func ConfigFromSettings(s config.AssemblyConfig) (*Config, error) {
	s = s.WithDefaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", coreerrors.ErrInvalidConfig, err)
	}

	cfg := NewConfig(
		WithMode(Mode(s.Mode)),
		WithScoringWeights(s.PriorityWeight, s.RelevanceWeight),
		WithViabilityFloor(s.ViabilityFloor),
		WithEmergency(s.EmergencyShrink, s.MaxEmergencyRounds),
		WithGatherTimeout(s.GatherTimeout),
		WithGatherConcurrency(s.GatherConcurrency),
		WithDigest(s.ComputeDigest),
	)
	cfg.OverflowTolerance = s.OverflowTolerance
	if s.SystemPrompt != "" {
		cfg.SystemPrompt = s.SystemPrompt
	}

	if s.Tokenizer == "tiktoken" {
		counter, err := NewTiktokenCounter(WithModel(s.TokenizerModel))
		if err != nil {
			// 分词器不可用不是致命错误，继续使用估算
			otel.GetLogger().Warn("tiktoken unavailable, using estimated counter",
				"model", s.TokenizerModel, "error", err)
		} else {
			cfg.TokenCounter = counter
		}
	}
	return cfg, cfg.Validate()
}
