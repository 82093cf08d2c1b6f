// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

// Package subscription implements the subscription engine: the per-subscriber
// state machine that replays persisted history and then live-pushes newly
// appended events in strict order, bounded by an ack/backpressure protocol.
//
// The package only consumes storage through the EventStore interface below.
// *postgres.EventStore satisfies it through the Adapt wrapper
// (store_adapter.go); apart from that wrapper, this package imports postgres
// only to reuse its NotifyPosition value type for the live notification feed.
package subscription

import (
	"context"

	"github.com/holoevents/eventstore/internal/eventlog"
	"github.com/holoevents/eventstore/internal/postgres"
)

// EventStore is the storage port the subscription engine depends on: the
// Cursor Store, Event Source, and Exclusive Lock components of spec.md §4,
// plus the live notification transport of §4.7.
type EventStore interface {
	// LocateOrCreateSubscription returns the durable cursor row for
	// (streamUUID, name). If the row already exists it is returned
	// unchanged and startEventNumber/startStreamVersion are ignored;
	// otherwise it is created with those starting positions (spec.md §4.1).
	LocateOrCreateSubscription(ctx context.Context, streamUUID, name string, startEventNumber, startStreamVersion int64) (eventlog.SubscriptionRow, error)

	// UpdateCursor persists an acknowledged position.
	UpdateCursor(ctx context.Context, id int64, lastSeenEventNumber, lastSeenStreamVersion int64) error

	// ReadStreamForward reads up to limit events from streamUUID strictly
	// after afterVersion, ordered by ascending stream_version.
	ReadStreamForward(ctx context.Context, streamUUID string, afterVersion int64, limit int) ([]eventlog.Event, error)

	// ReadAllForward reads up to limit events strictly after
	// afterEventNumber, ordered by ascending event_number.
	ReadAllForward(ctx context.Context, afterEventNumber int64, limit int) ([]eventlog.Event, error)

	// TryAcquireLock attempts the session-scoped advisory lock guarding
	// at-most-one-concurrent-consumer for the subscription row identified
	// by id (spec.md §4.2). ok is false, with a nil error, when some other
	// holder already has it.
	TryAcquireLock(ctx context.Context, id int64) (lock Lock, ok bool, err error)

	// SubscribeToBus opens (or reuses) a live notification feed for
	// streamUUID (or the eventlog.AllStreams sentinel), delivering the new
	// tail position every time an append commits.
	SubscribeToBus(ctx context.Context, streamUUID string) (<-chan postgres.NotifyPosition, <-chan error, error)
}

// Lock is the handle an Exclusive Lock acquisition returns; releasing it
// gives the lock up so another consumer can acquire it (postgres.AdvisoryLock
// unlocks and then returns its pinned connection to the pool).
type Lock interface {
	Release(ctx context.Context) error
}
