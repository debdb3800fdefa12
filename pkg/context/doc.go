// Package context 在固定的 Token 窗口内组装 LLM Prompt。
//
// 一次组装调用依次经过以下阶段：
//
//   - Classify：根据用户请求判定请求类型（创作、修改、分析、对话）
//   - Plan：按请求类型选取预算表，用户输入超出基线时重新分配
//   - Gather：并行收集各类别的候选片段，来源失败只视为缺失
//   - Score & Rank：按 static_priority*A + relevance*B 排序
//   - Fit：逐个类别放入预算，超出时按类别专属策略压缩
//   - EmergencyCompress：总量仍超出 TargetInputTokens 时逐轮缩减
//   - Finalize：按固定展示顺序拼接，并对最终字符串重新计数
//
// SystemPrompt 和 UserInput 总是原样保留。除了 nil 请求外，组装不会返回错误，
// 所有失败都记录为 AssemblyResult.Degradations 中的降级事件。
//
// # 基本用法
//
//	assembler := context.NewAssembler()
//	result, err := assembler.Assemble(ctx, &context.Request{
//	    UserRequest:    "Please revise the second paragraph",
//	    CurrentContent: draft,
//	    ContextData: context.ContextData{
//	        ComplianceSources: []context.ComplianceSource{
//	            {Title: "Risk", Text: "Past performance is not indicative of future results."},
//	        },
//	    },
//	})
//	messages := context.BuildMessages(result)
//
// # 配置
//
//	cfg := context.NewConfig(
//	    context.WithMode(context.ModeBasic),
//	    context.WithViabilityFloor(800),
//	    context.WithGatherTimeout(2*time.Second),
//	)
//	assembler := context.NewAssembler(
//	    context.WithConfig(cfg),
//	    context.WithGatherers(context.NewRetrievalGatherer(search, 5)),
//	)
//
// 配置文件中的 assembly 段可通过 ConfigFromSettings 转换为 Config。
//
// # Token 计数
//
// 请求可以通过 Request.Tokenizer 注入分词函数。分词函数第一次失败后，
// 本次调用余下的计数都改用 EstimatedCounter，并在结果中标记 TokenizerFallback。
package context
