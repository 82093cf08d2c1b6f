// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package subscription

import "errors"

// ErrLockContested is returned by Subscribe when try_advisory_lock found
// another consumer already holding the subscription's lock (spec.md §7).
// The caller may retry later; no runtime subscription is created.
var ErrLockContested = errors.New("subscription: advisory lock is held by another consumer")

// errOrderingViolation is fatal: the Event Source returned an event whose
// cursor does not strictly exceed last_seen. It indicates storage
// corruption or a Catch-Up Worker bug, never a recoverable condition.
var errOrderingViolation = errors.New("subscription: event source returned a non-increasing cursor")

// errBufferOverflow is fatal: the pending buffer accumulated while stalled
// in max_in_flight_exceeded exceeded its configured byte budget.
var errBufferOverflow = errors.New("subscription: pending buffer exceeded its configured budget")

// errSubscriberDown is fatal: the outbound delivery port could not accept a
// message because the subscriber is no longer reachable.
var errSubscriberDown = errors.New("subscription: subscriber delivery port is no longer reachable")
