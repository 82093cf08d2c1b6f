// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holoevents/eventstore/internal/config"
	"github.com/holoevents/eventstore/internal/eventlog"
	"github.com/holoevents/eventstore/internal/logging"
	"github.com/holoevents/eventstore/internal/postgres"
	"github.com/holoevents/eventstore/internal/subscription"
)

// NewSubscribeCmd creates the subscribe subcommand: a demonstration
// consumer that drives the subscription engine directly, printing each
// delivered event as JSON and acking it before requesting more.
func NewSubscribeCmd() *cobra.Command {
	var (
		streamUUID string
		name       string
		allStreams bool
	)

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe to a stream or the $all stream and print delivered events",
		Long: `Subscribe opens a durable, resumable subscription against the
event store and prints every delivered event as JSON to stdout, acking each
batch as it is printed. Re-running with the same --name resumes from the
last acknowledged cursor.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubscribe(cmd, streamUUID, name, allStreams)
		},
	}

	cmd.Flags().String("dsn", "", "PostgreSQL connection string (overrides config/env)")
	cmd.Flags().StringVar(&streamUUID, "stream", "", "stream UUID to subscribe to")
	cmd.Flags().StringVar(&name, "name", "", "durable subscription name (required)")
	cmd.Flags().BoolVar(&allStreams, "all", false, "subscribe to the $all stream instead of a single stream")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func runSubscribe(cmd *cobra.Command, streamUUID, name string, allStreams bool) error {
	if !allStreams && streamUUID == "" {
		return oops.Code("CONFIG_INVALID").Errorf("either --stream or --all is required")
	}

	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("eventstore-subscribe", version, cfg.LogFormat)
	logger := slog.Default()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	defer store.Close()

	mgr := subscription.NewManager(subscription.Adapt(store), logger)

	target := streamUUID
	if allStreams {
		target = eventlog.AllStreams
	}

	opts := subscription.NewOptions()
	opts.MaxInFlight = cfg.MaxInFlight
	opts.CatchUpBatchSize = cfg.CatchUpBatchSize
	opts.BufferBudgetBytes = cfg.BufferBudgetBytes

	sub, err := mgr.Subscribe(ctx, target, name, opts)
	if err != nil {
		return oops.Code("SUBSCRIBE_FAILED").With("stream_uuid", target).With("name", name).Wrap(err)
	}

	logger.Info("subscribed", "stream_uuid", target, "name", name)

	enc := json.NewEncoder(cmd.OutOrStdout())

	for {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			return nil
		case <-sub.Done():
			if err := sub.Err(); err != nil {
				return oops.Code("SUBSCRIPTION_TERMINATED").Wrap(err)
			}
			return nil
		case cu := <-sub.Channel().CaughtUp():
			logger.Info("caught up", "cursor", cu.Cursor)
		case delivery := <-sub.Channel().Events():
			var lastEventNumber, lastStreamVersion int64
			for _, raw := range delivery.Events {
				evt, ok := raw.(eventlog.Event)
				if !ok {
					continue
				}
				if err := enc.Encode(evt); err != nil {
					return oops.Code("ENCODE_FAILED").Wrap(err)
				}
				lastEventNumber = evt.EventNumber
				lastStreamVersion = evt.StreamVersion
			}
			sub.Ack(lastEventNumber, lastStreamVersion)
		}
	}
}
