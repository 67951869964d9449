package main

import (
	"os"

	"realtime-board/cmd/boardctl/commands"
)

// Version information - set during build
var version = "dev"

func main() {
	commands.SetVersion(version)

	// Errors are printed by the commands with color formatting
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
