// Package main provides the entry point for the nrtindex CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/nrtindex/cmd/nrtindex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
