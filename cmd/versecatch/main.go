// Command versecatch is the entry point for the VerseCatch scripture quote
// detection server.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
