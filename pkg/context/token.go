package context

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/easyops/contextbudget/pkg/core/message"
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter 定义 Token 计数接口。
//
// Token 数量在拼接下不可加，需要精确值时总是对最终字符串重新计数。
type TokenCounter interface {
	// Count 返回给定文本的 Token 数量。
	Count(text string) int

	// CountMessages 返回消息列表的总 Token 数量，
	// 包括角色前缀和分隔符。
	CountMessages(messages []message.Message) int
}

// TokenizerFunc 是调用方注入的分词能力，可能返回错误或 panic。
type TokenizerFunc func(text string) (int, error)

// TiktokenCounter 使用 tiktoken 实现精确的 Token 计数。
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// TiktokenOption 配置 TiktokenCounter。
type TiktokenOption func(*TiktokenCounter)

// WithModel 设置 Token 编码使用的模型。
// 支持的模型：gpt-4、gpt-4o、gpt-3.5-turbo 等。
func WithModel(model string) TiktokenOption {
	return func(c *TiktokenCounter) {
		c.model = model
	}
}

// NewTiktokenCounter 创建新的 TiktokenCounter。
// 模型未知时使用 cl100k_base 编码。
func NewTiktokenCounter(opts ...TiktokenOption) (*TiktokenCounter, error) {
	c := &TiktokenCounter{
		model: "gpt-4o",
	}

	for _, opt := range opts {
		opt(c)
	}

	encoding, err := tiktoken.EncodingForModel(c.model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenizerUnavailable, err)
		}
	}

	c.encoding = encoding
	return c, nil
}

// Count 返回给定文本的 Token 数量。
func (c *TiktokenCounter) Count(text string) int {
	if c.encoding == nil {
		return len(text) / 4
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// CountMessages 返回消息列表的总 Token 数量。
// 这会考虑 OpenAI API 中消息格式化的开销。
func (c *TiktokenCounter) CountMessages(messages []message.Message) int {
	// https://cookbook.openai.com/examples/how_to_count_tokens_with_tiktoken
	tokensPerMessage := 3 // <|start|>{role/name}\n{content}<|end|>\n
	tokensPerName := 1

	total := 0
	for _, msg := range messages {
		total += tokensPerMessage
		total += c.Count(string(msg.Role))
		total += c.Count(msg.Content)
		if msg.Name != "" {
			total += c.Count(msg.Name) + tokensPerName
		}
	}
	total += 3 // 每个回复都以 <|start|>assistant<|message|> 开头

	return total
}

// EstimatedCounter 使用字符估算实现 Token 计数。
//
// 结果是近似值：len(text)/4 向下取整，通常少于真实分词器的计数，
// 因此组装结束后仍需对最终字符串重新核对总量。
type EstimatedCounter struct {
	// CharsPerToken 是每个 Token 的平均字符数。
	// 默认值为 4，这是英文文本的合理估计。
	CharsPerToken float64
}

// NewEstimatedCounter 创建新的 EstimatedCounter。
func NewEstimatedCounter() *EstimatedCounter {
	return &EstimatedCounter{
		CharsPerToken: 4.0,
	}
}

// Count 返回估算的 Token 数量。
func (c *EstimatedCounter) Count(text string) int {
	perToken := c.CharsPerToken
	if perToken <= 0 {
		perToken = 4.0
	}
	return int(float64(len(text)) / perToken)
}

// CountMessages 返回消息列表的估算 Token 数量。
func (c *EstimatedCounter) CountMessages(messages []message.Message) int {
	return countMessages(c, messages)
}

// FallbackCounter 包装注入的分词函数。
//
// 分词函数第一次返回错误或 panic 后，本次调用余下的所有计数都改用字符估算，
// 保证同一次组装内的计数口径一致。每次组装调用应使用独立的实例。
type FallbackCounter struct {
	primary  TokenizerFunc
	fallback *EstimatedCounter

	degraded atomic.Bool
	mu       sync.Mutex
	err      error
}

// NewFallbackCounter 创建新的 FallbackCounter，primary 为 nil 时直接使用估算。
func NewFallbackCounter(primary TokenizerFunc) *FallbackCounter {
	return &FallbackCounter{
		primary:  primary,
		fallback: NewEstimatedCounter(),
	}
}

// Count 返回 Token 数量，分词失败时降级为估算。
func (c *FallbackCounter) Count(text string) int {
	if c.primary == nil || c.degraded.Load() {
		return c.fallback.Count(text)
	}

	n, err := c.safeCount(text)
	if err != nil {
		c.fail(err)
		return c.fallback.Count(text)
	}
	return n
}

// CountMessages 返回消息列表的 Token 数量。
func (c *FallbackCounter) CountMessages(messages []message.Message) int {
	return countMessages(c, messages)
}

// Degraded 返回是否已降级到估算。
func (c *FallbackCounter) Degraded() bool {
	return c.degraded.Load()
}

// Err 返回导致降级的第一个错误。
func (c *FallbackCounter) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *FallbackCounter) safeCount(text string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: tokenizer panic: %v", ErrTokenizerUnavailable, r)
		}
	}()

	n, err = c.primary(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTokenizerUnavailable, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative count %d", ErrTokenizerUnavailable, n)
	}
	return n, nil
}

func (c *FallbackCounter) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
	c.degraded.Store(true)
}

// CounterFunc 将 TokenCounter 适配为 TokenizerFunc。
func CounterFunc(counter TokenCounter) TokenizerFunc {
	if counter == nil {
		return nil
	}
	return func(text string) (int, error) {
		return counter.Count(text), nil
	}
}

// DefaultTokenCounter 返回一个 TokenCounter，
// 优先使用 TiktokenCounter，如果不可用则降级到 EstimatedCounter。
func DefaultTokenCounter() TokenCounter {
	counter, err := NewTiktokenCounter()
	if err != nil {
		return NewEstimatedCounter()
	}
	return counter
}

// countMessages 以固定开销估算消息列表。
func countMessages(counter TokenCounter, messages []message.Message) int {
	tokensPerMessage := 4

	total := 0
	for _, msg := range messages {
		total += tokensPerMessage
		total += counter.Count(string(msg.Role))
		total += counter.Count(msg.Content)
		if msg.Name != "" {
			total += counter.Count(msg.Name) + 1
		}
	}
	total += 3 // 回复引导

	return total
}

// 编译时接口检查
var _ TokenCounter = (*TiktokenCounter)(nil)
var _ TokenCounter = (*EstimatedCounter)(nil)
var _ TokenCounter = (*FallbackCounter)(nil)
