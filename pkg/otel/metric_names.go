package otel

// 预定义的指标名称
const (
	// 上下文组装指标
	MetricContextAssemblies       = "context.assemblies"        // 计数器: 组装次数
	MetricContextAssemblyDuration = "context.assembly.duration" // 直方图: 组装耗时(ms)
	MetricContextTokensTotal      = "context.tokens.total"      // 计数器: 最终 Prompt Token 总数
	MetricContextCompressions     = "context.compressions"      // 计数器: 片段压缩次数
	MetricContextEmergencyRounds  = "context.emergency.rounds"  // 计数器: 紧急压缩轮数
	MetricContextDegradations     = "context.degradations"      // 计数器: 降级事件数
	MetricContextQuality          = "context.quality"           // 仪表: 最近一次的综合质量分

	// 策略链指标
	MetricStrategyAttempts = "strategy.attempts" // 计数器: 流水线尝试次数
	MetricStrategyRetries  = "strategy.retries"  // 计数器: 重试次数
	MetricStrategyDegrades = "strategy.degrades" // 计数器: 降级到下一流水线的次数
)

// MetricUnit 指标单位
type MetricUnit string

const (
	UnitNone         MetricUnit = ""
	UnitMilliseconds MetricUnit = "ms"
	UnitSeconds      MetricUnit = "s"
	UnitBytes        MetricUnit = "By"
	UnitCount        MetricUnit = "1"
)

// MetricDescription 指标描述
type MetricDescription struct {
	Name        string
	Description string
	Unit        MetricUnit
	Type        string // counter, histogram, gauge
}

// PredefinedMetrics 预定义指标列表
var PredefinedMetrics = []MetricDescription{
	{MetricContextAssemblies, "Number of context assemblies", UnitCount, "counter"},
	{MetricContextAssemblyDuration, "Duration of context assembly", UnitMilliseconds, "histogram"},
	{MetricContextTokensTotal, "Tokens in assembled prompts", UnitCount, "counter"},
	{MetricContextCompressions, "Number of fragment compressions", UnitCount, "counter"},
	{MetricContextEmergencyRounds, "Number of emergency compression rounds", UnitCount, "counter"},
	{MetricContextDegradations, "Number of degradation events", UnitCount, "counter"},
	{MetricContextQuality, "Overall quality of the last assembly", UnitNone, "gauge"},

	{MetricStrategyAttempts, "Number of pipeline attempts", UnitCount, "counter"},
	{MetricStrategyRetries, "Number of pipeline retries", UnitCount, "counter"},
	{MetricStrategyDegrades, "Number of pipeline degradations", UnitCount, "counter"},
}

// describe 返回预定义指标的描述。
func describe(name string) (MetricDescription, bool) {
	for _, m := range PredefinedMetrics {
		if m.Name == name {
			return m, true
		}
	}
	return MetricDescription{}, false
}
