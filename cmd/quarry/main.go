// Package main is the entrypoint for the quarry CLI.
package main

import (
	"os"

	"github.com/quarry-labs/quarry/internal/cli"
)

// Version information, overridden at build time with
// -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version string
	commit  string
	date    string
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	os.Exit(cli.New().Execute())
}
