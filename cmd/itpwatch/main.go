// Command itpwatch checks Romanian periodic technical inspection (ITP)
// status for vehicles against the RAR public portal, either as a one-shot
// lookup or as a long-running watcher.
package main

import (
	"os"

	"github.com/itpwatch/itpwatch/cmd/itpwatch/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
