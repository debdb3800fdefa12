package main

import (
	"strings"

	"github.com/spf13/cobra"

	agentctx "github.com/easyops/contextbudget/pkg/context"
)

func newClassifyCmd() *cobra.Command {
	var (
		format  = formatJSON
		current string
	)

	cmd := &cobra.Command{
		Use:   "classify <request text>...",
		Short: "Classify a user request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := agentctx.Classify(strings.Join(args, " "), current)
			return writeValue(cmd.OutOrStdout(), format, c)
		},
	}

	cmd.Flags().VarP(&format, "format", "f", "Output format (json, yaml, cbor)")
	cmd.Flags().StringVar(&current, "current-content", "", "Existing document the request refers to")
	return cmd
}
