// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/holoevents/eventstore/internal/eventlog"
)

// poolIface is the subset of *pgxpool.Pool the event log and cursor store
// depend on. It exists so unit tests can substitute pgxmock.PgxPoolIface
// without a live database; the rest of the package talks to Postgres only
// through this seam.
type poolIface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EventStore implements the subscription engine's EventStore port against
// PostgreSQL: it is the event log, the cursor store, the advisory lock, and
// the LISTEN/NOTIFY transport rolled into one connection pool.
type EventStore struct {
	pool poolIface
	dsn  string

	// rawPool is non-nil only when constructed via New; it is the only thing
	// TryAcquireLock can call Acquire on, since a session-scoped advisory
	// lock needs a real pinned connection, not the poolIface seam.
	rawPool *pgxpool.Pool

	// connector opens a dedicated, non-pooled connection for LISTEN.
	// Overridden in tests to avoid a live database (see notify_test.go).
	connector func(ctx context.Context, dsn string) (connIface, error)
}

// New creates an EventStore backed by a pgxpool.Pool connected to dsn.
func New(ctx context.Context, dsn string) (*EventStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	return &EventStore{pool: pool, rawPool: pool, dsn: dsn, connector: defaultConnector}, nil
}

// newWithPool builds an EventStore around an arbitrary poolIface, bypassing
// New's live pgxpool.New dial. Used by unit tests to inject pgxmock.
func newWithPool(pool poolIface) *EventStore {
	return &EventStore{pool: pool, connector: defaultConnector}
}

// Close closes the underlying connection pool.
func (s *EventStore) Close() {
	if s.rawPool != nil {
		s.rawPool.Close()
	}
}

// Migrate runs all pending schema migrations.
func (s *EventStore) Migrate(databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return m.Up()
}

// CreateStream registers a new stream identity and returns its internal id.
// The "$all" sentinel may never be created as a stream.
func (s *EventStore) CreateStream(ctx context.Context, streamUUID string) (int64, error) {
	if streamUUID == eventlog.AllStreams {
		return 0, oops.Code("RESERVED_STREAM").Wrap(eventlog.ErrReservedStream)
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO streams (stream_uuid) VALUES ($1) RETURNING id`,
		streamUUID,
	).Scan(&id)
	if err == nil {
		return id, nil
	}

	var pgErr *pgconn.PgError
	if errorsAs(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		// Someone else just created the same stream; re-read rather than fail,
		// the same "create, catch unique-violation, re-read" idiom used for
		// subscription rows (see cursorstore.go).
		err := s.pool.QueryRow(ctx,
			`SELECT id FROM streams WHERE stream_uuid = $1`, streamUUID,
		).Scan(&id)
		if err != nil {
			return 0, oops.Code("STREAM_CREATE_FAILED").With("stream_uuid", streamUUID).Wrap(err)
		}
		return id, nil
	}

	return 0, oops.Code("STREAM_CREATE_FAILED").With("stream_uuid", streamUUID).Wrap(err)
}

// AppendToStream persists events to a stream in commit order within a single
// transaction, assigns event_number/stream_version, and notifies the per-
// stream and "$all" channels so live subscribers learn about the new tail.
// It returns the assigned event numbers in the same order as events.
func (s *EventStore) AppendToStream(ctx context.Context, streamUUID string, events []eventlog.Event) ([]int64, error) {
	if streamUUID == eventlog.AllStreams {
		return nil, oops.Code("RESERVED_STREAM").Wrap(eventlog.ErrReservedStream)
	}
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }() //nolint:errcheck // rollback after commit is a no-op

	var streamID int64
	if err := tx.QueryRow(ctx, `SELECT id FROM streams WHERE stream_uuid = $1`, streamUUID).Scan(&streamID); err != nil {
		if err == pgx.ErrNoRows {
			return nil, oops.Code("STREAM_NOT_FOUND").With("stream_uuid", streamUUID).Wrap(eventlog.ErrStreamNotFound)
		}
		return nil, oops.Code("STREAM_LOOKUP_FAILED").With("stream_uuid", streamUUID).Wrap(err)
	}

	var lastVersion int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(stream_version), 0) FROM events WHERE stream_id = $1`, streamID,
	).Scan(&lastVersion)
	if err != nil {
		return nil, oops.Code("STREAM_VERSION_LOOKUP_FAILED").With("stream_uuid", streamUUID).Wrap(err)
	}

	eventNumbers := make([]int64, len(events))
	for i, e := range events {
		version := lastVersion + int64(i) + 1

		var eventNumber int64
		err := tx.QueryRow(ctx, `
			INSERT INTO events (event_id, stream_id, stream_uuid, stream_version, event_type,
			                    correlation_id, causation_id, data, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING event_number
		`, e.EventID, streamID, streamUUID, version, e.EventType,
			nullUUIDArg(e.CorrelationID), nullUUIDArg(e.CausationID), e.Data, e.Metadata, e.CreatedAt,
		).Scan(&eventNumber)
		if err != nil {
			return nil, oops.Code("EVENT_APPEND_FAILED").
				With("stream_uuid", streamUUID).
				With("event_id", e.EventID.String()).
				Wrap(err)
		}
		eventNumbers[i] = eventNumber

		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, streamToChannel(streamUUID), fmt.Sprintf("%d", version)); err != nil {
			return nil, oops.Code("NOTIFY_FAILED").With("stream_uuid", streamUUID).Wrap(err)
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, streamToChannel(eventlog.AllStreams), fmt.Sprintf("%d", eventNumber)); err != nil {
			return nil, oops.Code("NOTIFY_FAILED").With("stream_uuid", eventlog.AllStreams).Wrap(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}

	return eventNumbers, nil
}

func nullUUIDArg(id uuid.NullUUID) any {
	if !id.Valid {
		return nil
	}
	return id.UUID
}
