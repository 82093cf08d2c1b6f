// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// connIface abstracts the single dedicated connection SubscribeToBus LISTENs
// on, so tests can drive notification delivery without a live database.
type connIface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// pgxConnAdapter adapts *pgx.Conn to connIface.
type pgxConnAdapter struct{ conn *pgx.Conn }

func (a *pgxConnAdapter) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return a.conn.Exec(ctx, sql, arguments...)
}

func (a *pgxConnAdapter) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return a.conn.WaitForNotification(ctx)
}

func (a *pgxConnAdapter) Close(ctx context.Context) error {
	return a.conn.Close(ctx)
}

func defaultConnector(ctx context.Context, dsn string) (connIface, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &pgxConnAdapter{conn: conn}, nil
}

var channelReplacer = strings.NewReplacer(":", "_", "-", "_")

// streamToChannel derives the LISTEN/NOTIFY channel name for a selector.
// Postgres channel identifiers cannot contain the characters stream UUIDs
// and the "$all" sentinel may, so ':' and '-' are folded to '_'.
func streamToChannel(streamUUID string) string {
	if streamUUID == "$all" {
		return "events_all"
	}
	return "events_" + channelReplacer.Replace(streamUUID)
}

// NotifyPosition is a wakeup signal delivered over the bus: "at least up to
// this position, new events exist for this selector." It carries no payload
// beyond the position because a subscribed FSM only uses it to read forward
// from its in-memory last_seen up to that position (catching_up FSMs ignore
// it) — the authoritative event content always comes from
// ReadStreamForward/ReadAllForward, never from the notification itself.
type NotifyPosition struct {
	Position int64
}

// SubscribeToBus opens a dedicated connection, LISTENs on the channel for
// streamUUID (or the $all sentinel), and streams positions as they arrive.
// The returned channels are closed, and the connection released, when ctx is
// canceled.
func (s *EventStore) SubscribeToBus(ctx context.Context, streamUUID string) (<-chan NotifyPosition, <-chan error, error) {
	conn, err := s.connector(ctx, s.dsn)
	if err != nil {
		return nil, nil, oops.Code("NOTIFY_CONNECT_FAILED").With("stream_uuid", streamUUID).Wrap(err)
	}

	channel := streamToChannel(streamUUID)
	if _, err := conn.Exec(ctx, "LISTEN \""+channel+"\""); err != nil {
		_ = conn.Close(context.Background())
		return nil, nil, oops.Code("NOTIFY_LISTEN_FAILED").With("channel", channel).Wrap(err)
	}

	posCh := make(chan NotifyPosition, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(posCh)
		defer close(errCh)
		defer func() { _ = conn.Close(context.Background()) }()

		for {
			notification, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case errCh <- oops.Code("NOTIFY_WAIT_FAILED").With("channel", channel).Wrap(err):
				case <-ctx.Done():
				}
				return
			}

			position, err := strconv.ParseInt(notification.Payload, 10, 64)
			if err != nil {
				select {
				case errCh <- oops.Code("NOTIFY_BAD_PAYLOAD").With("channel", channel).With("payload", notification.Payload).Wrap(err):
				case <-ctx.Done():
					return
				}
				continue
			}

			select {
			case posCh <- NotifyPosition{Position: position}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return posCh, errCh, nil
}
