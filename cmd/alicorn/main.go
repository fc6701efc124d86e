// Command alicorn is the dashboard backend for unicornscan results.
package main

import (
	"github.com/alicorn-scan/alicorn/cmd/cli"
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
