// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package subscription

import "github.com/holoevents/eventstore/internal/eventlog"

// Mapper is an optional pure transform applied to each event before
// delivery. It must never affect ordering or cursor arithmetic; the FSM
// applies it only to the copy handed to the subscriber. The zero value is
// unused — NewOptions installs the identity mapper.
type Mapper func(eventlog.Event) any

// identity is the default Mapper: delivered events are the Event itself.
func identity(e eventlog.Event) any { return e }

// Options configures a single Subscribe call (spec.md §6).
type Options struct {
	// StartFromEventNumber seeds the initial cursor for an all-streams
	// subscription on first use. Ignored on re-subscribe to an existing row.
	StartFromEventNumber int64

	// StartFromStreamVersion seeds the initial cursor for a single-stream
	// subscription on first use. Ignored on re-subscribe to an existing row.
	StartFromStreamVersion int64

	// Mapper transforms each event before delivery. Defaults to identity.
	Mapper Mapper

	// MaxInFlight bounds last_seen - last_ack before deliveries stall.
	// Defaults to 1000.
	MaxInFlight int64

	// CatchUpBatchSize bounds how many events the Catch-Up Worker reads per
	// round trip. Defaults to 1000.
	CatchUpBatchSize int

	// BufferBudgetBytes bounds the pending buffer accumulated while stalled
	// in max_in_flight_exceeded; exceeding it is a fatal BufferOverflow.
	// Notifications that arrive while catching up are not buffered. Defaults to
	// 16MiB, an arbitrary but generous ceiling for a single slow consumer.
	BufferBudgetBytes int64
}

const (
	defaultMaxInFlight       = 1000
	defaultCatchUpBatchSize  = 1000
	defaultBufferBudgetBytes = 16 << 20
)

// NewOptions returns Options with every unset field defaulted per spec.md §6.
func NewOptions() Options {
	return Options{
		Mapper:            identity,
		MaxInFlight:       defaultMaxInFlight,
		CatchUpBatchSize:  defaultCatchUpBatchSize,
		BufferBudgetBytes: defaultBufferBudgetBytes,
	}
}

func (o Options) withDefaults() Options {
	if o.Mapper == nil {
		o.Mapper = identity
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = defaultMaxInFlight
	}
	if o.CatchUpBatchSize <= 0 {
		o.CatchUpBatchSize = defaultCatchUpBatchSize
	}
	if o.BufferBudgetBytes <= 0 {
		o.BufferBudgetBytes = defaultBufferBudgetBytes
	}
	return o
}
