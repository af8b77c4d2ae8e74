package main

import (
	"github.com/bnema/lattice/internal/cli/cmd"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetBuildInfo(cmd.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	})
	cmd.Execute()
}
