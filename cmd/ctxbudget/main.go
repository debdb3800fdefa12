// Package main 是 ctxbudget 命令行工具的入口。
// ctxbudget 读取组装请求文件，输出组装好的 Prompt 与预算明细。
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/easyops/contextbudget/pkg/core/config"
	"github.com/easyops/contextbudget/pkg/otel"
)

// 由构建时 ldflags 设置
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app 保存一次命令执行共享的状态
type app struct {
	configPath string
	metricsOut string
	logLevel   string
	logFormat  string

	cfg      *config.Config
	provider *otel.Provider
	stderr   io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stderr: stderr}

	root := &cobra.Command{
		Use:           "ctxbudget",
		Short:         "Assemble LLM prompts within a fixed token budget",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close(cmd.Context())
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Config file (yaml or json); env "+config.EnvPrefix+"* overrides")
	flags.StringVar(&a.metricsOut, "metrics-out", "", "Write Prometheus text metrics to this file on exit")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "", "Log format (text, json)")

	root.AddCommand(
		newAssembleCmd(a),
		newPlanCmd(),
		newClassifyCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print ctxbudget version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ctxbudget %s (commit: %s)\n", version, commit)
		},
	}
}

// init 加载配置并创建可观测性提供者
func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Observability.LogLevel = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Observability.LogFormat = a.logFormat
	}
	a.cfg = cfg

	provider, err := otel.NewProviderWithWriter(observabilityConfig(cfg.Observability, a.metricsOut != ""), a.stderr)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	otel.SetGlobal(provider)
	a.provider = provider
	return nil
}

// close 写出指标文件并关闭提供者
func (a *app) close(ctx context.Context) error {
	if a.provider == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		if err := a.provider.Shutdown(ctx); err != nil {
			a.provider.Logger().Warn("observability shutdown failed", "error", err)
		}
	}()

	if a.metricsOut == "" {
		return nil
	}
	prom, ok := a.provider.Metrics().(*otel.PrometheusMetrics)
	if !ok {
		return fmt.Errorf("metrics backend does not support textfile output")
	}
	if err := prom.WriteToTextfile(a.metricsOut); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// observabilityConfig 将配置文件中的可观测性设置映射为 otel.Config。
// textfile 为 true 时强制启用 Prometheus 指标。
func observabilityConfig(o config.ObservabilityConfig, textfile bool) otel.Config {
	c := otel.DefaultConfig()
	c.Enabled = o.Enabled || textfile
	c.ServiceName = o.ServiceName

	c.Tracing.Exporter = otel.ExporterType(o.Exporter)
	c.Tracing.Enabled = o.Enabled && o.Exporter != "" && o.Exporter != string(otel.ExporterNone)
	if o.TracerEndpoint != "" {
		c.Tracing.Endpoint = o.TracerEndpoint
	}
	c.Tracing.SampleRate = o.SampleRate

	c.Metrics.Backend = otel.MetricsBackend(o.MetricsBackend)
	c.Metrics.Enabled = o.Enabled && c.Metrics.Backend != otel.MetricsNoop
	if o.MetricsEndpoint != "" {
		c.Metrics.Endpoint = o.MetricsEndpoint
	}
	if textfile {
		c.Metrics.Enabled = true
		c.Metrics.Backend = otel.MetricsPrometheus
	}

	c.Logging.Level = o.LogLevel
	c.Logging.Format = o.LogFormat
	return c
}
