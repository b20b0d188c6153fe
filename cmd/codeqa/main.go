// Package main provides the entry point for the codeqa CLI.
package main

import (
	"os"

	"github.com/alakhanpal23/codebase-qa/cmd/codeqa/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
