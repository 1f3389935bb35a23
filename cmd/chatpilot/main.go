// Package main is the entry point for the chatpilot CLI.
package main

import (
	"os"

	"github.com/chatpilot/chatpilot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
