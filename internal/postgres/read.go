// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/holoevents/eventstore/internal/eventlog"
)

// ReadStreamForward reads up to limit events from streamUUID strictly after
// afterVersion, ordered by stream_version ascending. This backs catch-up
// replay for selector-scoped subscriptions.
func (s *EventStore) ReadStreamForward(ctx context.Context, streamUUID string, afterVersion int64, limit int) ([]eventlog.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, event_number, stream_uuid, stream_version, event_type,
		       correlation_id, causation_id, data, metadata, created_at
		FROM events
		WHERE stream_uuid = $1 AND stream_version > $2
		ORDER BY stream_version ASC
		LIMIT $3
	`, streamUUID, afterVersion, limit)
	if err != nil {
		return nil, oops.Code("STREAM_READ_FAILED").With("stream_uuid", streamUUID).Wrap(err)
	}
	return scanEvents(rows)
}

// ReadAllForward reads up to limit events from the global log strictly after
// afterEventNumber, ordered by event_number ascending. This backs catch-up
// replay for $all subscriptions.
func (s *EventStore) ReadAllForward(ctx context.Context, afterEventNumber int64, limit int) ([]eventlog.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, event_number, stream_uuid, stream_version, event_type,
		       correlation_id, causation_id, data, metadata, created_at
		FROM events
		WHERE event_number > $1
		ORDER BY event_number ASC
		LIMIT $2
	`, afterEventNumber, limit)
	if err != nil {
		return nil, oops.Code("ALL_STREAM_READ_FAILED").Wrap(err)
	}
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]eventlog.Event, error) {
	defer rows.Close()

	var events []eventlog.Event
	for rows.Next() {
		var e eventlog.Event
		if err := rows.Scan(
			&e.EventID, &e.EventNumber, &e.StreamUUID, &e.StreamVersion, &e.EventType,
			&e.CorrelationID, &e.CausationID, &e.Data, &e.Metadata, &e.CreatedAt,
		); err != nil {
			return nil, oops.Code("EVENT_SCAN_FAILED").Wrap(err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("EVENT_SCAN_FAILED").Wrap(err)
	}
	return events, nil
}
