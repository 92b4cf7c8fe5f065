// Package main is the entry point for the snipd application.
package main

import (
	"os"

	"github.com/jmylchreest/snipd/cmd/snipd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
