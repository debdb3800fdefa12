package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	agentctx "github.com/easyops/contextbudget/pkg/context"
	"github.com/easyops/contextbudget/pkg/strategy"
)

// assembleOutput 是 assemble 命令的输出
type assembleOutput struct {
	*agentctx.AssemblyResult
	Trace *strategy.Trace `json:"strategy_trace,omitempty"`
}

func newAssembleCmd(a *app) *cobra.Command {
	var (
		format    = formatJSON
		mode      modeFlag
		textOnly  bool
		withTrace bool
	)

	cmd := &cobra.Command{
		Use:   "assemble <request.json|->",
		Short: "Assemble a prompt from a request file",
		Long: `Assemble a prompt from a JSON request file ("-" reads stdin).

The request may contain comments and trailing commas. It is validated
against the request schema before assembly. Pipelines are tried in the
configured order (advanced, basic, minimal) until one succeeds.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			req, err := agentctx.DecodeRequest(data)
			if err != nil {
				return err
			}

			engineCfg, err := agentctx.ConfigFromSettings(a.cfg.Assembly)
			if err != nil {
				return err
			}
			logger, tracer, metrics := a.provider.Logger(), a.provider.Tracer(), a.provider.Metrics()
			assembler := agentctx.NewAssembler(
				agentctx.WithConfig(engineCfg),
				agentctx.WithLogger(logger),
				agentctx.WithTracer(tracer),
				agentctx.WithMetrics(metrics),
			)

			strategyCfg := a.cfg.Strategy
			if mode != "" {
				strategyCfg.Pipelines = pipelinesFrom(agentctx.Mode(mode))
			}
			runner, err := strategy.NewRunnerFromConfig(assembler, strategyCfg,
				strategy.WithLogger(logger),
				strategy.WithTracer(tracer),
				strategy.WithMetrics(metrics),
			)
			if err != nil {
				return err
			}

			result, trace, err := runner.Run(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("assemble: %w", err)
			}

			out := cmd.OutOrStdout()
			if textOnly {
				_, err := fmt.Fprintln(out, result.FinalText)
				return err
			}
			output := assembleOutput{AssemblyResult: result}
			if withTrace {
				output.Trace = trace
			}
			return writeValue(out, format, output)
		},
	}

	cmd.Flags().VarP(&format, "format", "f", "Output format (json, yaml, cbor)")
	cmd.Flags().Var(&mode, "mode", "Start from this pipeline (advanced, basic, minimal)")
	cmd.Flags().BoolVar(&textOnly, "text", false, "Print only the assembled prompt")
	cmd.Flags().BoolVar(&withTrace, "trace", false, "Include the pipeline attempts in the output")
	return cmd
}

// readInput 读取文件，"-" 表示标准输入
func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	return data, nil
}

// pipelinesFrom 返回从指定模式开始的降级链
func pipelinesFrom(mode agentctx.Mode) []string {
	chain := []agentctx.Mode{agentctx.ModeAdvanced, agentctx.ModeBasic, agentctx.ModeMinimal}
	for i, m := range chain {
		if m == mode {
			names := make([]string, 0, len(chain)-i)
			for _, rest := range chain[i:] {
				names = append(names, string(rest))
			}
			return names
		}
	}
	return nil
}
