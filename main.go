// SPDX-License-Identifier: MIT
package main

import (
	"fmt"
	"os"

	"instrument/cmd"
	applog "instrument/internal/log"
	"instrument/pkg/build"
)

// main initializes build information and hands over to the command line.
// The root command plays the instrument live; render, bench and list are
// one-off commands that never open a live stream.
func main() {
	if err := build.Initialize(); err != nil {
		applog.Fatalf("%v", err)
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
