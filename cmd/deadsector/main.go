// Package main provides the entry point for the deadsector CLI.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
