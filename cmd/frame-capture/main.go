// Package main provides the frame-capture CLI: it runs the request
// lifecycle engine against a simulated or GStreamer-fed camera and fans
// delivered frames out to a recorder, a warm-up FPS check and telemetry.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=..."
var (
	version = "dev"
	commit  = "none"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "frame-capture",
		Short: "Camera frame request lifecycle engine",
		Long: `frame-capture drives a camera through configure, start and stop,
recycling capture requests and delivering the newest frame to subscribers.

Commands:
  run       Capture until interrupted or --duration elapses
  version   Show version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "frame-capture %s (commit: %s)\n", version, commit)
		},
	}
}
