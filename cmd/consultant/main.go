// Package main provides the entry point for the consultant CLI.
package main

import (
	"fmt"
	"os"

	"github.com/chyon8/AI-consultant-sub001/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
