// cmd/indextree is an interactive shell over the B+-tree index.
//
// Usage:
//
//	indextree [database-file]
//
// With no argument, opens an in-memory-only index (no backing file, no
// eviction ceiling). Enter ".help" inside the shell for usage.
package main

import (
	"fmt"
	"os"

	"indextree/pkg/cli"
	"indextree/pkg/config"
	"indextree/pkg/logging"
)

func main() {
	var path string
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	opts := config.Options{
		Path:   path,
		Logger: logging.New("indextree", os.Stderr),
	}

	repl, err := cli.Open(opts, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening index: %v\n", err)
		os.Exit(1)
	}
	defer repl.Close()

	repl.Run()
}
