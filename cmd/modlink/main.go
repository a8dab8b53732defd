// Package main provides the entry point for the modlink deployment CLI.
package main

import (
	"os"
)

func main() {
	os.Exit(exitCode(Execute()))
}
