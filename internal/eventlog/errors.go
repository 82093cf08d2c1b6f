// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package eventlog

import "errors"

// Sentinel errors returned by EventStore implementations. Callers use
// errors.Is against these; richer context is attached via samber/oops by the
// concrete store, matching the teacher's convention of wrapping a sentinel
// inside an oops-coded error rather than replacing it.
var (
	// ErrStreamNotFound is returned when an operation references a stream_uuid
	// that was never created via create_stream.
	ErrStreamNotFound = errors.New("eventlog: stream not found")

	// ErrStreamEmpty denotes a stream that has no events yet. No EventStore
	// method in this repository currently returns it.
	ErrStreamEmpty = errors.New("eventlog: stream is empty")

	// ErrSubscriptionNotFound is returned when deleting or updating a cursor
	// for a (stream_uuid, name) pair that has no row.
	ErrSubscriptionNotFound = errors.New("eventlog: subscription not found")

	// ErrReservedStream is returned when a caller attempts to create or
	// append to the "$all" sentinel stream.
	ErrReservedStream = errors.New("eventlog: \"$all\" is reserved and cannot be appended to")
)
