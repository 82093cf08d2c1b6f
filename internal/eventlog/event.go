// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

// Package eventlog holds the data model shared by the storage layer and the
// subscription engine: the immutable Event record, the persisted subscription
// cursor row, and the sentinel identifiers both sides agree on.
package eventlog

import (
	"time"

	"github.com/google/uuid"
)

// AllStreams is the sentinel stream identifier selecting the union of all
// streams rather than one specific stream. It is reserved: no event may ever
// be appended to it.
const AllStreams = "$all"

// Event is an immutable record of something that happened to a stream.
//
// EventNumber is assigned by the store on commit and is globally dense and
// monotonic starting at 1 (invariant I1). StreamVersion is assigned by the
// store on commit and is dense per stream starting at 1 (invariant I2).
// Events are never updated or deleted after being persisted (invariant I3).
type Event struct {
	EventID       uuid.UUID
	EventNumber   int64
	StreamUUID    string
	StreamVersion int64
	EventType     string
	CorrelationID uuid.NullUUID
	CausationID   uuid.NullUUID
	Data          []byte
	Metadata      []byte
	CreatedAt     time.Time
}

// NewEvent builds an Event pending persistence. EventID is always freshly
// minted; EventNumber and StreamVersion are left zero, since the store
// assigns them on Append.
func NewEvent(streamUUID, eventType string, data, metadata []byte) Event {
	return Event{
		EventID:    uuid.New(),
		StreamUUID: streamUUID,
		EventType:  eventType,
		Data:       data,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}
}

// SubscriptionRow is the durable cursor row for one (stream_uuid, name) pair.
// It is the authoritative, persisted half of a subscription's position;
// the runtime FSM keeps its own in-memory last_seen/last_ack (spec I6).
type SubscriptionRow struct {
	ID                    int64
	StreamUUID            string
	Name                  string
	LastSeenEventNumber   int64
	LastSeenStreamVersion int64
	CreatedAt             time.Time
}

// Cursor returns the field of the row relevant to the given selector kind:
// EventNumber for the "$all" selector, StreamVersion for a single stream.
func (r SubscriptionRow) Cursor(allStreams bool) int64 {
	if allStreams {
		return r.LastSeenEventNumber
	}
	return r.LastSeenStreamVersion
}
