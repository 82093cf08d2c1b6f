// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the eventstore CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eventstore",
		Short: "An append-only event store with a resumable subscription engine",
		Long: `eventstore is a PostgreSQL-backed, append-only event log with a
pull-style, resumable subscription engine bounded by an explicit ack and
backpressure protocol.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewSubscribeCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}
