// Package main provides the entry point for sessiond.
package main

import (
	"os"

	"github.com/sessiond/sessiond/cmd/sessiond/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
