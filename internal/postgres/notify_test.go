// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamToChannel(t *testing.T) {
	tests := []struct {
		name       string
		streamUUID string
		want       string
	}{
		{"all sentinel", "$all", "events_all"},
		{"plain uuid", "a1b2c3", "events_a1b2c3"},
		{"uuid with hyphens", "a1b2-c3d4", "events_a1b2_c3d4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, streamToChannel(tt.streamUUID))
		})
	}
}

// mockConn implements connIface for testing SubscribeToBus without a live
// database, the same seam the teacher's store package uses for Subscribe.
type mockConn struct {
	execFunc                func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	waitForNotificationFunc func(ctx context.Context) (*pgconn.Notification, error)
}

func (m *mockConn) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, arguments...)
	}
	return pgconn.NewCommandTag("LISTEN"), nil
}

func (m *mockConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	if m.waitForNotificationFunc != nil {
		return m.waitForNotificationFunc(ctx)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (m *mockConn) Close(_ context.Context) error { return nil }

func TestEventStore_SubscribeToBus_ConnectionError(t *testing.T) {
	s := &EventStore{
		dsn: "test-dsn",
		connector: func(_ context.Context, _ string) (connIface, error) {
			return nil, errors.New("connection refused")
		},
	}

	posCh, errCh, err := s.SubscribeToBus(context.Background(), "order-1")
	require.Error(t, err)
	assert.Nil(t, posCh)
	assert.Nil(t, errCh)
}

func TestEventStore_SubscribeToBus_ListenError(t *testing.T) {
	s := &EventStore{
		dsn: "test-dsn",
		connector: func(_ context.Context, _ string) (connIface, error) {
			return &mockConn{
				execFunc: func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
					return pgconn.CommandTag{}, errors.New("LISTEN failed")
				},
			}, nil
		},
	}

	posCh, errCh, err := s.SubscribeToBus(context.Background(), "order-1")
	require.Error(t, err)
	assert.Nil(t, posCh)
	assert.Nil(t, errCh)
}

func TestEventStore_SubscribeToBus_DeliversPosition(t *testing.T) {
	notificationSent := make(chan struct{})

	s := &EventStore{
		dsn: "test-dsn",
		connector: func(_ context.Context, _ string) (connIface, error) {
			return &mockConn{
				waitForNotificationFunc: func(ctx context.Context) (*pgconn.Notification, error) {
					select {
					case <-notificationSent:
						return &pgconn.Notification{Channel: "events_order_1", Payload: "42"}, nil
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				},
			}, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	posCh, errCh, err := s.SubscribeToBus(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, posCh)
	require.NotNil(t, errCh)

	close(notificationSent)

	select {
	case pos := <-posCh:
		assert.Equal(t, int64(42), pos.Position)
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for position")
	}
}

func TestEventStore_SubscribeToBus_InvalidPayload(t *testing.T) {
	s := &EventStore{
		dsn: "test-dsn",
		connector: func(_ context.Context, _ string) (connIface, error) {
			return &mockConn{
				waitForNotificationFunc: func(_ context.Context) (*pgconn.Notification, error) {
					return &pgconn.Notification{Channel: "events_order_1", Payload: "not-a-number"}, nil
				},
			}, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	posCh, errCh, err := s.SubscribeToBus(ctx, "order-1")
	require.NoError(t, err)

	select {
	case <-posCh:
		t.Fatal("should not receive a position for an invalid payload")
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for error")
	}
}

func TestEventStore_SubscribeToBus_ContextCancelled(t *testing.T) {
	s := &EventStore{
		dsn: "test-dsn",
		connector: func(_ context.Context, _ string) (connIface, error) {
			return &mockConn{}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())

	posCh, errCh, err := s.SubscribeToBus(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, posCh)
	require.NotNil(t, errCh)

	cancel()

	select {
	case _, ok := <-posCh:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}
