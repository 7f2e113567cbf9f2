// Package main is the entry point for the mediarun runtime CLI.
package main

import (
	"os"

	"github.com/mediarun/mediarun/cmd/mediarun/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
