// Command dvaultctl is a CLI client for a single DittoVault repository:
// create, list, stat, mkdir, rm, mv, cat, put and get against the path
// tree inside a vault addressed by a file://, mem:// or badger:// URI.
package main

import (
	"fmt"
	"os"

	"github.com/marmos91/dittovault/cmd/dvaultctl/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
