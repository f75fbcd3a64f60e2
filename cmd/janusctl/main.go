// Command janusctl is a thin demonstrator CLI over the janus cache
// library: it exercises the Store facade's sync, search, dependency and
// maintenance operations from the command line. It is a harness for the
// library, not a tracker's own command dispatcher.
package main

import (
	"fmt"
	"os"

	"github.com/janus-dev/janus-cache/cmd/janusctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
