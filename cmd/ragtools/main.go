// Command ragtools exercises the knowledge base tools outside of a
// realtime session: it prints the tool definitions and invokes the tools
// the way the orchestrator does.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
