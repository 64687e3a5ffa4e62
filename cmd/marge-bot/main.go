// Package main is the entry point for the marge-bot release CLI.
//
// This binary provides commands for the project's release pipeline:
// building the package, freezing dependencies, regenerating the nix
// expressions, building and publishing the container image, and
// inspecting merge-request approvals. It delegates all functionality to
// the internal/cli package, which defines cobra commands.
package main

import (
	"github.com/ylck/marge-bot/internal/cli"
)

// version, commit, and date are set at build time via ldflags. During
// development they default to "dev", "none", and "unknown".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Inject build-time version info into the CLI package, keeping the
	// build system decoupled from the CLI framework.
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	rootCmd := cli.NewRootCommand()
	cli.Execute(rootCmd)
}
