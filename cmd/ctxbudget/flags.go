package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	agentctx "github.com/easyops/contextbudget/pkg/context"
)

// modeFlag 组装模式参数
type modeFlag string

func (m *modeFlag) String() string { return string(*m) }

func (m *modeFlag) Set(s string) error {
	switch v := agentctx.Mode(strings.ToLower(s)); v {
	case agentctx.ModeAdvanced, agentctx.ModeBasic, agentctx.ModeMinimal:
		*m = modeFlag(v)
		return nil
	default:
		return fmt.Errorf("must be one of advanced, basic, minimal")
	}
}

func (m *modeFlag) Type() string { return "mode" }

// requestTypeFlag 请求类型参数
type requestTypeFlag agentctx.RequestType

func (t *requestTypeFlag) String() string { return string(*t) }

func (t *requestTypeFlag) Set(s string) error {
	rt, ok := agentctx.ParseRequestType(s)
	if !ok {
		return fmt.Errorf("must be one of creation, refinement, analysis, conversation")
	}
	*t = requestTypeFlag(rt)
	return nil
}

func (t *requestTypeFlag) Type() string { return "type" }

var (
	_ pflag.Value = (*modeFlag)(nil)
	_ pflag.Value = (*requestTypeFlag)(nil)
)
