// Command trustd serves the trust core over HTTP and runs its maintenance
// tasks: schema migrations, bootstrap accounts and invitations.
package main

import (
	"fmt"
	"os"
)

// Build information, set via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := App().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
