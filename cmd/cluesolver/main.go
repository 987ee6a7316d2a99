// Command cluesolver runs solver actions from the command line. Games are
// passed as session strings, or kept in a local history file with --game.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
