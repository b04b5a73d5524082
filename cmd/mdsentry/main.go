// Package main provides the entry point for the mdsentry CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/mdsentry/cmd/mdsentry/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
