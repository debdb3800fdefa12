package main

import (
	"fmt"

	"github.com/spf13/cobra"

	agentctx "github.com/easyops/contextbudget/pkg/context"
)

func newPlanCmd() *cobra.Command {
	var (
		format     = formatJSON
		reqType    = requestTypeFlag(agentctx.RequestCreation)
		userTokens int
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the token budget for a request type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userTokens < 0 {
				return fmt.Errorf("--user-tokens must not be negative")
			}
			budget := agentctx.Plan(agentctx.RequestType(reqType), userTokens)
			return writeValue(cmd.OutOrStdout(), format, budget)
		},
	}

	cmd.Flags().VarP(&format, "format", "f", "Output format (json, yaml, cbor)")
	cmd.Flags().VarP(&reqType, "type", "t", "Request type (creation, refinement, analysis, conversation)")
	cmd.Flags().IntVar(&userTokens, "user-tokens", 0, "Token count of the user request")
	return cmd
}
