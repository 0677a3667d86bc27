// Package main is the entrypoint for the switchboard CLI.
// The CLI inspects engines, executes commands, and orchestrates
// switches against a locally configured fleet.
package main

import (
	"os"

	"github.com/switchboard-data/switchboard/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	os.Exit(cli.New().Execute())
}
