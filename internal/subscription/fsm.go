// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package subscription

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/holoevents/eventstore/internal/eventlog"
)

// State is a tagged variant over the subscription lifecycle (spec.md §4.5,
// §9). max_in_flight_exceeded is not its own constant: it is the Subscribed
// state with overflowing set, exactly as the design notes model it.
type State int

const (
	StateInitial State = iota
	StateSubscribeToEvents
	StateCatchingUp
	StateSubscribed
	StateUnsubscribed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateSubscribeToEvents:
		return "subscribe_to_events"
	case StateCatchingUp:
		return "catching_up"
	case StateSubscribed:
		return "subscribed"
	case StateUnsubscribed:
		return "unsubscribed"
	default:
		return "unknown"
	}
}

// kind distinguishes a single-stream selector from the $all selector; it
// decides which cursor field is authoritative and which Event Source
// iterator reads history (spec.md §4.5 "Event selection and versioning").
type kind int

const (
	kindStream kind = iota
	kindAll
)

func kindOf(streamUUID string) kind {
	if streamUUID == eventlog.AllStreams {
		return kindAll
	}
	return kindStream
}

// inbound messages processed one at a time by Subscription.run, giving the
// FSM a single-consumer inbox per spec.md §5 ("each active subscription runs
// as an independent task... serializes all state transitions").
type ackMsg struct {
	eventNumber   int64
	streamVersion int64
}

type notifyMsg struct {
	position int64
}

type unsubscribeMsg struct {
	done chan struct{}
}

// Subscription is one running instance of the subscription FSM: one
// goroutine, one inbox, one advisory lock. Construct it with Subscribe.
type Subscription struct {
	store EventStore
	log   *slog.Logger

	streamUUID string
	name       string
	kind       kind
	opts       Options

	row  eventlog.SubscriptionRow
	lock Lock

	inbox chan any

	// kill carries a fatal error forced from outside the FSM's own
	// goroutine — currently only the Notifier Fan-in, when a subscriber's
	// inbox is too full to accept another notification (spec.md §7
	// BufferOverflow: a dropped notification can be the last one a stream
	// ever sees, so it must terminate the subscriber, not just log).
	// Buffered by one so a single non-blocking send always lands.
	kill chan error

	channel *Channel

	// done closes when run() returns, regardless of cause.
	done     chan struct{}
	doneOnce sync.Once
	termErr  error
	termMu   sync.Mutex
}

// Err returns the error that terminated the subscription, or nil if it is
// still running or ended cleanly via Unsubscribe.
func (s *Subscription) Err() error {
	s.termMu.Lock()
	defer s.termMu.Unlock()
	return s.termErr
}

// Done reports when the subscription's goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Channel returns the delivery port consumers read from.
func (s *Subscription) Channel() *Channel {
	return s.channel
}

// Ack acknowledges delivery up to eventNumber/streamVersion. Per spec.md §7
// (CursorRegression), an ack that does not advance last_ack is silently
// ignored rather than erroring.
func (s *Subscription) Ack(eventNumber, streamVersion int64) {
	select {
	case s.inbox <- ackMsg{eventNumber: eventNumber, streamVersion: streamVersion}:
	case <-s.done:
	}
}

// Unsubscribe stops the subscription and blocks until its goroutine has
// fully exited: the Catch-Up Worker is stopped, the advisory lock released,
// and any messages still queued in the inbox are discarded (spec.md §4.5, §5).
func (s *Subscription) Unsubscribe() {
	ackDone := make(chan struct{})
	select {
	case s.inbox <- unsubscribeMsg{done: ackDone}:
		<-ackDone
	case <-s.done:
	}
	<-s.done
}

func (s *Subscription) terminate(err error) {
	s.termMu.Lock()
	first := s.termErr == nil
	if first {
		s.termErr = err
	}
	s.termMu.Unlock()
	if first {
		s.log.Error("subscription terminated", "subscription", s.name, "stream_uuid", s.streamUUID, "error", err)
	}
}

func (s *Subscription) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// cursorOf picks the field relevant to this subscription's selector kind
// out of an ack's (event_number, stream_version) pair.
func (s *Subscription) cursorOf(eventNumber, streamVersion int64) int64 {
	if s.kind == kindAll {
		return eventNumber
	}
	return streamVersion
}

// run is the subscription's actor loop. It owns all mutable FSM state
// (last_seen, last_ack, pending buffer, overflowing) for its lifetime; no
// other goroutine touches them, which is what makes the transitions race
// free per spec.md §5.
func (s *Subscription) run(ctx context.Context) {
	defer s.markDone()
	defer s.releaseLock(context.Background())
	defer s.channel.closeOutbound()

	fsm := &runState{
		state:    StateSubscribeToEvents,
		lastSeen: s.row.Cursor(s.kind == kindAll),
		lastAck:  s.row.Cursor(s.kind == kindAll),
	}

	// subscribed(): the lock is already held by the time run() starts
	// (Subscribe acquires it synchronously before spawning), so the FSM
	// immediately proceeds to catching_up via catch_up().
	fsm.state = StateCatchingUp
	if !s.catchUpRound(ctx, fsm) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			s.terminate(oops.Code("SUBSCRIBER_DOWN").With("subscription", s.name).Wrap(ctx.Err()))
			return

		case err := <-s.kill:
			s.terminate(err)
			return

		case raw := <-s.inbox:
			switch msg := raw.(type) {
			case ackMsg:
				if !s.handleAck(ctx, fsm, msg) {
					return
				}
			case notifyMsg:
				if !s.handleNotify(ctx, fsm, msg) {
					return
				}
			case unsubscribeMsg:
				fsm.state = StateUnsubscribed
				close(msg.done)
				return
			}
		}
	}
}

func (s *Subscription) releaseLock(ctx context.Context) {
	if s.lock == nil {
		return
	}
	if err := s.lock.Release(ctx); err != nil {
		s.log.Warn("failed to release advisory lock", "subscription", s.name, "stream_uuid", s.streamUUID, "error", err)
	}
}
