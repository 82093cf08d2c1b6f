// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package subscription

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// inboxSize buffers a handful of inbound messages (acks, live notifications)
// so a brief burst does not force the Notifier Fan-in's non-blocking send to
// drop a notification it didn't need to.
const inboxSize = 8

// Manager owns the Notifier Fan-in and is the entrypoint consumers use to
// start subscriptions. One Manager per EventStore is expected to live for
// the lifetime of the process.
type Manager struct {
	store    EventStore
	log      *slog.Logger
	notifier *notifier
}

// NewManager builds a Manager around an EventStore port.
func NewManager(store EventStore, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:    store,
		log:      log,
		notifier: newNotifier(store, log),
	}
}

// Subscribe implements the subscribe(conn, stream_uuid, name, subscriber,
// opts) transition of spec.md §4.5: it locates or creates the durable
// cursor row, attempts the exclusive advisory lock, and — if acquired —
// spawns the subscription's actor goroutine starting in catching_up.
//
// ctx governs the lifetime of the returned Subscription: canceling it is
// equivalent to the subscriber becoming unreachable (spec.md §7
// SubscriberDown). It is independent from any per-call context passed to
// other Manager methods.
func (m *Manager) Subscribe(ctx context.Context, streamUUID, name string, opts Options) (*Subscription, error) {
	opts = opts.withDefaults()
	k := kindOf(streamUUID)

	row, err := m.store.LocateOrCreateSubscription(ctx, streamUUID, name, opts.StartFromEventNumber, opts.StartFromStreamVersion)
	if err != nil {
		return nil, oops.Code("TRANSIENT_STORAGE").With("stream_uuid", streamUUID).With("name", name).Wrap(err)
	}

	lock, ok, err := m.store.TryAcquireLock(ctx, row.ID)
	if err != nil {
		return nil, oops.Code("TRANSIENT_STORAGE").With("stream_uuid", streamUUID).With("name", name).Wrap(err)
	}
	if !ok {
		return nil, oops.Code("LOCK_CONTESTED").With("stream_uuid", streamUUID).With("name", name).Wrap(ErrLockContested)
	}

	sub := &Subscription{
		store:      m.store,
		log:        m.log,
		streamUUID: streamUUID,
		name:       name,
		kind:       k,
		opts:       opts,
		row:        row,
		lock:       lock,
		inbox:      make(chan any, inboxSize),
		kill:       make(chan error, 1),
		channel:    newChannel(ctx),
		done:       make(chan struct{}),
	}

	m.notifier.register(ctx, sub, streamUUID)
	go func() {
		sub.run(ctx)
		m.notifier.unregister(sub, streamUUID)
	}()

	return sub, nil
}
