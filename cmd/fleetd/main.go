// fleetd - Mobile Device Fleet Orchestrator
//
// This is the main entry point for fleetd. It discovers Android devices,
// schedules test plans against them, runs scripts and declarative workflows
// over the Command Bus, and fans execution results out to storage and
// reporting sinks.
//
// Commands:
//   - serve:   run the orchestrator (optionally --dry-run against simulated devices)
//   - check:   validate the configuration, plan file, and workflow directory
//   - version: print build information
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnvVar overrides the default configuration path.
const configEnvVar = "FLEETD_CONFIG"

func main() {
	// Cancel on Ctrl+C and SIGTERM so every component shuts down cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Each call returns fresh flag state,
// so tests can execute it repeatedly.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "fleetd",
		Short:         "Mobile device fleet orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", getConfigPath(),
		"Path to the YAML configuration file (defaults to $"+configEnvVar+")")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(checkCmd(&configPath))
	root.AddCommand(versionCmd())
	return root
}

func serveCmd(configPath *string) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), runOptions{
				ConfigPath: *configPath,
				DryRun:     dryRun,
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false,
		"Use an in-process bus and simulated devices instead of MQTT and adb")
	return cmd
}

func checkCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration, test plans, and workflows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return check(cmd.OutOrStdout(), *configPath)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fleetd %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// getConfigPath returns the configuration file path.
// Checks FLEETD_CONFIG environment variable first, then uses default.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}
