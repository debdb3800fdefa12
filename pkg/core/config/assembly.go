package config

import "time"

// AssemblyConfig 上下文组装引擎配置
type AssemblyConfig struct {
	// Mode 组装模式（advanced 或 basic）
	// 默认: advanced
	Mode string `koanf:"mode"`
	// PriorityWeight 静态优先级权重，必须不小于 RelevanceWeight
	// 默认: 1.0
	PriorityWeight float64 `koanf:"priority_weight"`
	// RelevanceWeight 相关性权重
	// 默认: 0.5
	RelevanceWeight float64 `koanf:"relevance_weight"`
	// ViabilityFloor 压缩目标低于该值时输出占位提示
	// 默认: 500
	ViabilityFloor int `koanf:"viability_floor"`
	// OverflowTolerance 压缩结果允许超出目标的比例
	// 默认: 1.2
	OverflowTolerance float64 `koanf:"overflow_tolerance"`
	// EmergencyShrink 紧急压缩每轮缩减比例
	// 默认: 0.3
	EmergencyShrink float64 `koanf:"emergency_shrink"`
	// MaxEmergencyRounds 紧急压缩最大轮数
	// 默认: 20
	MaxEmergencyRounds int `koanf:"max_emergency_rounds"`
	// GatherTimeout 单个上下文来源的收集超时
	// 默认: 5s
	GatherTimeout time.Duration `koanf:"gather_timeout"`
	// GatherConcurrency 同时收集的来源数上限，0 为不限
	GatherConcurrency int `koanf:"gather_concurrency"`
	// Tokenizer 分词器（estimate 或 tiktoken）
	// 默认: estimate
	Tokenizer string `koanf:"tokenizer"`
	// TokenizerModel tiktoken 使用的模型名称
	// 默认: gpt-4o
	TokenizerModel string `koanf:"tokenizer_model"`
	// SystemPrompt 请求未提供系统提示时使用的默认值
	SystemPrompt string `koanf:"system_prompt"`
	// ComputeDigest 是否计算输入摘要
	ComputeDigest bool `koanf:"compute_digest"`
}

// Validate 验证组装配置
func (c *AssemblyConfig) Validate() error {
	switch c.Mode {
	case "advanced", "basic":
	default:
		return ErrInvalidMode
	}
	if c.PriorityWeight < c.RelevanceWeight || c.RelevanceWeight < 0 {
		return ErrInvalidWeights
	}
	if c.ViabilityFloor < 0 {
		return ErrInvalidFloor
	}
	if c.OverflowTolerance < 1 {
		return ErrInvalidTolerance
	}
	if c.EmergencyShrink <= 0 || c.EmergencyShrink >= 1 {
		return ErrInvalidShrink
	}
	if c.GatherConcurrency < 0 {
		return ErrInvalidConcurrency
	}
	switch c.Tokenizer {
	case "estimate", "tiktoken":
	default:
		return ErrInvalidTokenizer
	}
	return nil
}

// WithDefaults 返回带默认值的配置
func (c AssemblyConfig) WithDefaults() AssemblyConfig {
	if c.Mode == "" {
		c.Mode = "advanced"
	}
	if c.PriorityWeight == 0 {
		c.PriorityWeight = 1.0
	}
	if c.RelevanceWeight == 0 {
		c.RelevanceWeight = 0.5
	}
	if c.ViabilityFloor == 0 {
		c.ViabilityFloor = 500
	}
	if c.OverflowTolerance == 0 {
		c.OverflowTolerance = 1.2
	}
	if c.EmergencyShrink == 0 {
		c.EmergencyShrink = 0.3
	}
	if c.MaxEmergencyRounds == 0 {
		c.MaxEmergencyRounds = 20
	}
	if c.GatherTimeout == 0 {
		c.GatherTimeout = 5 * time.Second
	}
	if c.Tokenizer == "" {
		c.Tokenizer = "estimate"
	}
	if c.TokenizerModel == "" {
		c.TokenizerModel = "gpt-4o"
	}
	return c
}
