package config

import "time"

// StrategyConfig 流水线降级策略配置
type StrategyConfig struct {
	// Pipelines 依次尝试的流水线
	// 默认: [advanced, basic, minimal]
	Pipelines []string `koanf:"pipelines"`
	// MaxRetries 可重试错误的最大重试次数
	// 默认: 2, 最大: 10
	MaxRetries int `koanf:"max_retries"`
	// RetryDelay 重试间隔基数
	// 默认: 200ms
	RetryDelay time.Duration `koanf:"retry_delay"`
}

// Validate 验证策略配置
func (c *StrategyConfig) Validate() error {
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return ErrInvalidMaxRetries
	}
	if c.RetryDelay < 0 {
		return ErrInvalidTimeout
	}
	for _, p := range c.Pipelines {
		switch p {
		case "advanced", "basic", "minimal":
		default:
			return ErrInvalidPipeline
		}
	}
	return nil
}

// WithDefaults 返回带默认值的配置
func (c StrategyConfig) WithDefaults() StrategyConfig {
	if len(c.Pipelines) == 0 {
		c.Pipelines = []string{"advanced", "basic", "minimal"}
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	return c
}
