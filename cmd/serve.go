package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-gatekeeper/internal/app"
)

// serveDebug enables debug-level logging across the gateway.
var serveDebug bool

// serveSilent discards all log output.
var serveSilent bool

// serveConfigPath points at an optional YAML configuration file.
var serveConfigPath string

// serveCmd starts the gateway: it loads configuration, wires every
// component, and serves the HTTP control surface until signalled to stop.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway's HTTP control surface",
	Long: `Starts the gateway: resolves configuration, wires the Observation
Store, transport adapters, health prober, load balancer, backpressure
controller, and dispatcher, then serves the HTTP control surface until
interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug, serveSilent, serveConfigPath)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug-level logging")
	serveCmd.Flags().BoolVar(&serveSilent, "silent", false, "Discard all log output")
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to a YAML configuration file")
}
