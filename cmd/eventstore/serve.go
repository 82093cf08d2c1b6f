// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holoevents/eventstore/internal/config"
	"github.com/holoevents/eventstore/internal/logging"
	"github.com/holoevents/eventstore/internal/observability"
	"github.com/holoevents/eventstore/internal/postgres"
	"github.com/holoevents/eventstore/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the event store's observability server",
		Long: `Run the long-lived eventstore process: connects to PostgreSQL and
serves Prometheus metrics and health probes until interrupted. It opens no
subscriptions itself; use "eventstore subscribe" for that.`,
		RunE: runServe,
	}
	cmd.Flags().String("dsn", "", "PostgreSQL connection string (overrides config/env)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("eventstore", version, cfg.LogFormat)
	logger := slog.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	defer store.Close()

	obs := observability.NewServer(cfg.ObservabilityAddr, func() bool { return true })
	errCh, err := obs.Start()
	if err != nil {
		return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
	}

	go func() {
		for obsErr := range errCh {
			if obsErr != nil {
				errutil.LogError(logger, "observability server failed", obsErr)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("eventstore serving", "addr", cfg.ObservabilityAddr)
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := obs.Stop(shutdownCtx); err != nil {
		return oops.Code("OBSERVABILITY_STOP_FAILED").Wrap(err)
	}

	logger.Info("eventstore stopped")
	return nil
}
