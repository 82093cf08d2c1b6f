// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package subscription

import (
	"context"

	"github.com/samber/oops"

	"github.com/holoevents/eventstore/internal/eventlog"
)

// runState holds every mutable field the FSM owns for the lifetime of a
// subscription (spec.md §3 "Runtime state of a subscription"). It is only
// ever touched from the subscription's own goroutine.
type runState struct {
	state       State
	overflowing bool // meaningful only when state == StateSubscribed

	lastSeen int64
	lastAck  int64

	// catchUpOutstanding/catchUpBatchCursor track the one batch the
	// Catch-Up Worker allows in flight at a time (spec.md §4.4, O4). The
	// next round is issued only once an ack reaches catchUpBatchCursor.
	catchUpOutstanding bool
	catchUpBatchCursor int64

	// pendingCaughtUp covers the `cursor > last_ack` guard of the
	// caught_up(cursor) transition (spec.md §4.5). The strictly sequential
	// Catch-Up Worker below never actually produces that case — the next
	// round only starts once the prior batch is fully acked, so an empty
	// read's cursor always equals last_ack already. The field exists for
	// fidelity to the literal transition table and as a safety net if the
	// worker is ever made to look ahead of acks.
	pendingCaughtUp *int64

	// pendingBuffer holds live events received while max_in_flight_exceeded
	// (spec.md §4.5, §5 backpressure). Buffered events have not yet
	// advanced last_seen; that happens only when they are delivered.
	pendingBuffer      []eventlog.Event
	pendingBufferBytes int64
}

// eventCursor extracts the cursor field relevant to this subscription's
// selector kind (spec.md §4.5 "Event selection and versioning").
func (s *Subscription) eventCursor(e eventlog.Event) int64 {
	if s.kind == kindAll {
		return e.EventNumber
	}
	return e.StreamVersion
}

// cursorOf is defined in fsm.go; readBatch below is its counterpart for the
// Event Source half of the selector split.
func (s *Subscription) readBatch(ctx context.Context, afterCursor int64, limit int) ([]eventlog.Event, error) {
	if s.kind == kindAll {
		return s.store.ReadAllForward(ctx, afterCursor, limit)
	}
	return s.store.ReadStreamForward(ctx, s.streamUUID, afterCursor, limit)
}

// deliver maps and pushes a batch to the subscriber.
func (s *Subscription) deliver(ctx context.Context, batch []eventlog.Event) error {
	mapped := make([]any, len(batch))
	for i, e := range batch {
		mapped[i] = s.opts.Mapper(e)
	}
	return s.channel.sendEvents(ctx, Delivery{Events: mapped})
}

// catchUpRound drives one iteration of the Catch-Up Worker (spec.md §4.4):
// read one batch starting at last_ack, deliver it and wait for ack, or emit
// caught_up when the read comes back empty. Returns false if the
// subscription terminated.
func (s *Subscription) catchUpRound(ctx context.Context, fsm *runState) bool {
	batch, err := s.readBatch(ctx, fsm.lastAck, s.opts.CatchUpBatchSize)
	if err != nil {
		s.terminate(oops.Code("TRANSIENT_STORAGE").With("subscription", s.name).Wrap(err))
		return false
	}

	if len(batch) == 0 {
		return s.onCaughtUp(ctx, fsm, fsm.lastAck)
	}

	for _, e := range batch {
		c := s.eventCursor(e)
		if c <= fsm.lastSeen {
			s.terminate(oops.Code("ORDERING_VIOLATION").
				With("subscription", s.name).
				With("last_seen", fsm.lastSeen).
				With("cursor", c).
				Wrap(errOrderingViolation))
			return false
		}
		fsm.lastSeen = c
	}

	if err := s.deliver(ctx, batch); err != nil {
		s.terminate(oops.Code("SUBSCRIBER_DOWN").With("subscription", s.name).Wrap(err))
		return false
	}

	fsm.catchUpOutstanding = true
	fsm.catchUpBatchCursor = fsm.lastSeen
	return true
}

// onCaughtUp implements the caught_up(cursor) transition.
func (s *Subscription) onCaughtUp(ctx context.Context, fsm *runState, cursor int64) bool {
	if cursor == fsm.lastAck {
		return s.transitionToSubscribed(ctx, fsm, cursor)
	}
	fsm.pendingCaughtUp = &cursor
	return true
}

// transitionToSubscribed moves catching_up -> subscribed, emits the
// {caught_up, cursor} control message, and flushes anything buffered in the
// interim (normally nothing; see pendingBuffer's doc comment).
func (s *Subscription) transitionToSubscribed(ctx context.Context, fsm *runState, cursor int64) bool {
	fsm.state = StateSubscribed
	fsm.lastSeen = cursor
	fsm.pendingCaughtUp = nil
	fsm.catchUpOutstanding = false

	if err := s.channel.sendCaughtUp(ctx, CaughtUp{Cursor: cursor}); err != nil {
		s.terminate(oops.Code("SUBSCRIBER_DOWN").With("subscription", s.name).Wrap(err))
		return false
	}

	if len(fsm.pendingBuffer) > 0 {
		return s.flushPending(ctx, fsm)
	}
	return true
}

// handleAck implements the ack(event_number, stream_version) transition,
// valid from any active state (spec.md §4.5, §7 CursorRegression).
func (s *Subscription) handleAck(ctx context.Context, fsm *runState, msg ackMsg) bool {
	cursor := s.cursorOf(msg.eventNumber, msg.streamVersion)
	if cursor <= fsm.lastAck {
		return true // CursorRegression: idempotent ack, silently ignored
	}
	fsm.lastAck = cursor

	if err := s.store.UpdateCursor(ctx, s.row.ID, msg.eventNumber, msg.streamVersion); err != nil {
		s.terminate(oops.Code("TRANSIENT_STORAGE").With("subscription", s.name).Wrap(err))
		return false
	}

	switch fsm.state {
	case StateCatchingUp:
		if fsm.pendingCaughtUp != nil && fsm.lastAck >= *fsm.pendingCaughtUp {
			return s.transitionToSubscribed(ctx, fsm, *fsm.pendingCaughtUp)
		}
		if fsm.catchUpOutstanding && fsm.lastAck >= fsm.catchUpBatchCursor {
			fsm.catchUpOutstanding = false
			return s.catchUpRound(ctx, fsm)
		}
	case StateSubscribed:
		if fsm.overflowing && fsm.lastSeen-fsm.lastAck < s.opts.MaxInFlight {
			return s.flushPending(ctx, fsm)
		}
	}
	return true
}

// handleNotify implements notify_events(events) for the three states it is
// valid in (spec.md §4.5). During catching_up it is a deliberate no-op: the
// sequential Catch-Up Worker above will discover the same new data on its
// own next read, so buffering it here would only duplicate storage reads.
func (s *Subscription) handleNotify(ctx context.Context, fsm *runState, msg notifyMsg) bool {
	switch {
	case fsm.state == StateCatchingUp:
		return true
	case fsm.state == StateSubscribed && !fsm.overflowing:
		return s.pushLive(ctx, fsm, msg.position)
	case fsm.state == StateSubscribed && fsm.overflowing:
		return s.bufferLive(ctx, fsm, msg.position)
	default:
		return true
	}
}

// pushLive delivers newly notified events immediately while subscribed and
// under the max_in_flight bound, advancing last_seen and entering
// max_in_flight_exceeded if the bound is now met.
func (s *Subscription) pushLive(ctx context.Context, fsm *runState, position int64) bool {
	if position <= fsm.lastSeen {
		return true // stale notification; already observed
	}

	batch, err := s.readBatch(ctx, fsm.lastSeen, int(position-fsm.lastSeen))
	if err != nil {
		s.terminate(oops.Code("TRANSIENT_STORAGE").With("subscription", s.name).Wrap(err))
		return false
	}
	if len(batch) == 0 {
		return true
	}

	for _, e := range batch {
		c := s.eventCursor(e)
		if c <= fsm.lastSeen {
			s.terminate(oops.Code("ORDERING_VIOLATION").
				With("subscription", s.name).
				With("last_seen", fsm.lastSeen).
				With("cursor", c).
				Wrap(errOrderingViolation))
			return false
		}
		fsm.lastSeen = c
	}

	if err := s.deliver(ctx, batch); err != nil {
		s.terminate(oops.Code("SUBSCRIBER_DOWN").With("subscription", s.name).Wrap(err))
		return false
	}

	if fsm.lastSeen-fsm.lastAck >= s.opts.MaxInFlight {
		fsm.overflowing = true
	}
	return true
}

// bufferLive fetches newly notified events and appends them to the pending
// buffer without advancing last_seen (last_seen only advances on actual
// delivery, preserving P5: last_seen - last_ack <= max_in_flight).
func (s *Subscription) bufferLive(ctx context.Context, fsm *runState, position int64) bool {
	afterCursor := fsm.lastSeen
	if n := len(fsm.pendingBuffer); n > 0 {
		afterCursor = s.eventCursor(fsm.pendingBuffer[n-1])
	}
	if position <= afterCursor {
		return true
	}

	batch, err := s.readBatch(ctx, afterCursor, int(position-afterCursor))
	if err != nil {
		s.terminate(oops.Code("TRANSIENT_STORAGE").With("subscription", s.name).Wrap(err))
		return false
	}

	for _, e := range batch {
		fsm.pendingBuffer = append(fsm.pendingBuffer, e)
		fsm.pendingBufferBytes += int64(len(e.Data) + len(e.Metadata))
		if fsm.pendingBufferBytes > s.opts.BufferBudgetBytes {
			s.terminate(oops.Code("BUFFER_OVERFLOW").
				With("subscription", s.name).
				With("bytes", fsm.pendingBufferBytes).
				With("budget", s.opts.BufferBudgetBytes).
				Wrap(errBufferOverflow))
			return false
		}
	}
	return true
}

// flushPending delivers as much of the pending buffer as max_in_flight
// allows, possibly re-entering max_in_flight_exceeded if more remains
// (spec.md §4.5 ack transition, "this may re-enter max_in_flight_exceeded").
func (s *Subscription) flushPending(ctx context.Context, fsm *runState) bool {
	fsm.overflowing = false

	for len(fsm.pendingBuffer) > 0 {
		room := s.opts.MaxInFlight - (fsm.lastSeen - fsm.lastAck)
		if room <= 0 {
			fsm.overflowing = true
			return true
		}

		n := room
		if int64(len(fsm.pendingBuffer)) < n {
			n = int64(len(fsm.pendingBuffer))
		}
		batch := fsm.pendingBuffer[:n]
		fsm.pendingBuffer = fsm.pendingBuffer[n:]

		var freed int64
		for _, e := range batch {
			freed += int64(len(e.Data) + len(e.Metadata))
			fsm.lastSeen = s.eventCursor(e)
		}
		fsm.pendingBufferBytes -= freed

		if err := s.deliver(ctx, batch); err != nil {
			s.terminate(oops.Code("SUBSCRIBER_DOWN").With("subscription", s.name).Wrap(err))
			return false
		}

		if fsm.lastSeen-fsm.lastAck >= s.opts.MaxInFlight {
			fsm.overflowing = true
			return true
		}
	}

	return true
}
