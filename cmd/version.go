package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newVersionCmd prints the gateway's build-time version.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gateway's version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gatekeeper version %s\n", rootCmd.Version)
		},
	}
}
