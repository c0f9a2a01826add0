package main

import (
	"os"
)

func main() {
	// Cobra prints the error; only the exit status is left to us.
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
