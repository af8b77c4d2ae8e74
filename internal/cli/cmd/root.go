// Package cmd provides Cobra CLI commands for lattice.
package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// BuildInfo carries build-time metadata set via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var (
	buildInfo = BuildInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

	rootCmd = &cobra.Command{
		Use:           "lattice",
		Short:         "Local-first scientific workbench core",
		SilenceErrors: true,
		SilenceUsage:  true,
		Long: `Lattice - the workbench runtime as a CLI.

The core is a library: a split-pane workspace, a live-preview markdown
decoration engine, a notebook execution kernel, and a sandboxed plugin
host. These subcommands exercise it directly for inspection and tooling:

  lattice parse      dump the elements and decorations of a markdown file
  lattice notebook   inspect or normalise an .ipynb document
  lattice plugins    validate plugin manifests`,
	}
)

// SetBuildInfo injects build metadata before Execute.
func SetBuildInfo(info BuildInfo) {
	buildInfo = info
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("lattice %s (%s) built %s with %s\n",
				buildInfo.Version, buildInfo.Commit, buildInfo.BuildDate, runtime.Version())
		},
	})
}
