// Package main is the entry point for the splicecast application.
package main

import (
	"os"

	"github.com/splicecast/splicecast/cmd/splicecast/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
