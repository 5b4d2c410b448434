// Package cmd implements the gateway's command-line entrypoint,
// grounded on the teacher's cmd package (a Cobra root command plus one
// subcommand per operating mode).
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands, following common conventions.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
)

// rootCmd represents the base command for the gateway binary.
var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "An MCP gateway that routes, load-balances, and authenticates tool calls across MCP servers",
	Long: `gatekeeper fronts a pool of MCP servers behind a single HTTP control
surface: register server templates, start and stop instances, route and
execute tool calls, and observe health and lifecycle events through one
authenticated endpoint.`,
	SilenceUsage: true,
}

// SetVersion injects the build-time version into the root command,
// called from main before Execute.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command, translating a returned error into a
// nonzero process exit code.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "gatekeeper version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
