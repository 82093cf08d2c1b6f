// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// AdvisoryLock holds a session-scoped PostgreSQL advisory lock on a single
// pinned connection. Release unlocks it with pg_advisory_unlock on that same
// connection and then returns the connection to the pool; the lock is never
// valid across connections.
type AdvisoryLock struct {
	conn *pgxpool.Conn
	key  int64
}

// TryAcquireLock attempts to take the exclusive, at-most-one-consumer lock
// for a subscription, keyed by its durable row id (spec.md §4.2: "an
// advisory, session-scoped lock keyed by the subscription's internal
// numeric id"). It returns ok=false (not an error) when some other process
// already holds it — subscription.Manager.Subscribe turns that into
// ErrLockContested and starts no subscription.
//
// The returned *AdvisoryLock pins a dedicated connection for as long as the
// lock is held; callers must call Release when the subscription stops.
func (s *EventStore) TryAcquireLock(ctx context.Context, id int64) (*AdvisoryLock, bool, error) {
	if s.rawPool == nil {
		return nil, false, oops.Code("LOCK_UNSUPPORTED").With("id", id).
			Errorf("advisory locks require a real connection pool, not a mocked poolIface")
	}

	conn, err := s.rawPool.Acquire(ctx)
	if err != nil {
		return nil, false, oops.Code("LOCK_ACQUIRE_CONN_FAILED").With("id", id).Wrap(err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, oops.Code("LOCK_ACQUIRE_FAILED").With("id", id).Wrap(err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	return &AdvisoryLock{conn: conn, key: id}, true, nil
}

// Release unlocks and returns the pinned connection to the pool.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	defer l.conn.Release()
	var ok bool
	if err := l.conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, l.key).Scan(&ok); err != nil {
		return oops.Code("LOCK_RELEASE_FAILED").Wrap(err)
	}
	return nil
}
