// Command sweepnet is the entry point for the sweepnet port scanner.
package main

import (
	"github.com/sweepnet/sweepnet/cmd/cli"
)

// Build information, overridden by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
