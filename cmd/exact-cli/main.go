// Package main is the entry point for exact-cli.
package main

import (
	"os"

	"github.com/shunichi-ikebuchi/exact-online-connector/cmd/exact-cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
