// Command evocaitiond continues text with an external generation tool.
// It predicts into files, serves editor plugins over a Unix socket, and
// manages the shared configuration.
package main

import (
	"fmt"
	"os"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := newRootCommand(newApp()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "evocaitiond:", describe(err))
		os.Exit(1)
	}
}
