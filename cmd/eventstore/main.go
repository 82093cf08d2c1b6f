// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

// Package main is the entry point for the eventstore CLI.
package main

import (
	"fmt"
	"os"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := NewRootCmd()
	root.Version = formatVersion(version, commit, date)

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

// formatVersion renders the build-time version stamp the way --version prints it.
func formatVersion(version, commit, date string) string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}
