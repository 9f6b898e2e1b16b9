package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/viniolvs/mwfaas/pkg/function"
	"github.com/viniolvs/mwfaas/pkg/strategy"
)

var functionsCmd = &cobra.Command{
	Use:   "functions",
	Short: "List built-in functions, reducers and strategies",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "functions:  %s\n", strings.Join(function.DefaultRegistry.Names(), ", "))
		fmt.Fprintf(out, "reducers:   %s\n", strings.Join(function.DefaultRegistry.ReducerNames(), ", "))
		fmt.Fprintf(out, "strategies: %s\n", strings.Join(strategy.Names(), ", "))
	},
}

func init() {
	rootCmd.AddCommand(functionsCmd)
}
