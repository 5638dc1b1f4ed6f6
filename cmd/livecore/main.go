// Package main is the entry point for the livecore daemon.
package main

import (
	"os"

	"github.com/streamhub/livecore/cmd/livecore/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
