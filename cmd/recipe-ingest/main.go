// Package main provides the entry point for the recipe-ingest CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joseph-ayodele/recipe-ingest/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
