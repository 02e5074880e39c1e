package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd wires every subcommand under the zuul-gateway root.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "zuul-gateway",
		Short: "Trigger Zuul jobs through a virtual git repository",
		Long: `zuul-gateway pretends to be a pagure forge hosting a single repository.
Posting a zuul.yaml to /jobs/<name> commits it as refs/pull/<name>/head and
sends a signed pull-request.new event to Zuul, which then clones the ref
over the dumb HTTP protocol.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newHashObjectCmd())
	return root
}

// Execute runs the root command and handles exit codes.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
