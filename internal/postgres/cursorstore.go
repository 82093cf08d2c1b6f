// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/holoevents/eventstore/internal/eventlog"
)

// errorsAs is a package-local alias kept so call sites read naturally; it is
// exactly errors.As, pulled out only because every file in this package
// needs it for pgconn.PgError classification.
func errorsAs(err error, target any) bool {
	return errors.As(err, target)
}

// LocateOrCreateSubscription returns the cursor row for (streamUUID, name).
// If the row already exists it is returned unchanged — startEventNumber and
// startStreamVersion are ignored, per spec.md §4.1. Otherwise it is created
// with those starting positions (0,0 meaning "from the beginning").
// Concurrent first-use races are resolved by catching the unique-violation
// and re-reading, the same idiom CreateStream uses for stream identity rows.
func (s *EventStore) LocateOrCreateSubscription(ctx context.Context, streamUUID, name string, startEventNumber, startStreamVersion int64) (eventlog.SubscriptionRow, error) {
	row, err := s.selectSubscription(ctx, streamUUID, name)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, eventlog.ErrSubscriptionNotFound) {
		return eventlog.SubscriptionRow{}, err
	}

	_, insertErr := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (stream_uuid, subscription_name, last_seen_event_number, last_seen_stream_version)
		VALUES ($1, $2, $3, $4)
	`, streamUUID, name, startEventNumber, startStreamVersion)
	if insertErr != nil {
		var pgErr *pgconn.PgError
		if !(errorsAs(insertErr, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation) {
			return eventlog.SubscriptionRow{}, oops.Code("SUBSCRIPTION_CREATE_FAILED").
				With("stream_uuid", streamUUID).With("name", name).Wrap(insertErr)
		}
		// lost the race to create; fall through to re-read below
	}

	row, err = s.selectSubscription(ctx, streamUUID, name)
	if err != nil {
		return eventlog.SubscriptionRow{}, oops.Code("SUBSCRIPTION_CREATE_FAILED").
			With("stream_uuid", streamUUID).With("name", name).Wrap(err)
	}
	return row, nil
}

func (s *EventStore) selectSubscription(ctx context.Context, streamUUID, name string) (eventlog.SubscriptionRow, error) {
	var row eventlog.SubscriptionRow
	err := s.pool.QueryRow(ctx, `
		SELECT id, stream_uuid, subscription_name, last_seen_event_number, last_seen_stream_version, created_at
		FROM subscriptions
		WHERE stream_uuid = $1 AND subscription_name = $2
	`, streamUUID, name).Scan(
		&row.ID, &row.StreamUUID, &row.Name, &row.LastSeenEventNumber, &row.LastSeenStreamVersion, &row.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return eventlog.SubscriptionRow{}, oops.Code("SUBSCRIPTION_NOT_FOUND").
			With("stream_uuid", streamUUID).With("name", name).Wrap(eventlog.ErrSubscriptionNotFound)
	}
	if err != nil {
		return eventlog.SubscriptionRow{}, oops.Code("SUBSCRIPTION_LOOKUP_FAILED").
			With("stream_uuid", streamUUID).With("name", name).Wrap(err)
	}
	return row, nil
}

// UpdateCursor persists the subscriber's acknowledged position. Callers are
// expected to only ever advance the cursor; the engine's FSM enforces that
// invariant before this is called.
func (s *EventStore) UpdateCursor(ctx context.Context, id int64, lastSeenEventNumber, lastSeenStreamVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET last_seen_event_number = $2, last_seen_stream_version = $3
		WHERE id = $1
	`, id, lastSeenEventNumber, lastSeenStreamVersion)
	if err != nil {
		return oops.Code("CURSOR_UPDATE_FAILED").With("subscription_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("SUBSCRIPTION_NOT_FOUND").With("subscription_id", id).Wrap(eventlog.ErrSubscriptionNotFound)
	}
	return nil
}

// DeleteSubscription removes a subscription's durable cursor, discarding its
// resume position. Used by administrative reset operations, never by the
// FSM itself.
func (s *EventStore) DeleteSubscription(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return oops.Code("SUBSCRIPTION_DELETE_FAILED").With("subscription_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("SUBSCRIPTION_NOT_FOUND").With("subscription_id", id).Wrap(eventlog.ErrSubscriptionNotFound)
	}
	return nil
}
