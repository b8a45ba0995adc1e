package main

import (
	"fmt"
	"os"

	"github.com/rikpy/shopify-bulk/pkg/client"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		class, msg := client.Describe(err)
		fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", class, msg)
		os.Exit(exitCode(class))
	}
}

// exitCode maps an error class to a process exit status.
func exitCode(class client.ErrorClass) int {
	switch class {
	case client.ClassUser:
		return 2
	case client.ClassThrottled, client.ClassRetriesExhausted:
		return 3
	case client.ClassOperationMismatch, client.ClassOperationFailed:
		return 4
	case client.ClassTimeout, client.ClassCancelled:
		return 5
	default:
		return 1
	}
}
