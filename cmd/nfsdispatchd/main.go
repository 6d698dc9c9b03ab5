// Command nfsdispatchd runs the NFS-family RPC dispatch and
// request-queueing core as a standalone daemon.
package main

import (
	"fmt"
	"os"

	"github.com/nfsdispatch/core/cmd/nfsdispatchd/commands"
)

// Build-time variables injected via ldflags.
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
