// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package subscription_test

import (
	"context"
	"sort"
	"sync"

	"github.com/holoevents/eventstore/internal/eventlog"
	"github.com/holoevents/eventstore/internal/postgres"
	"github.com/holoevents/eventstore/internal/subscription"
)

// fakeLock releases its subscription row id back to the owning fakeStore so
// a subsequent TryAcquireLock for the same id can succeed again.
type fakeLock struct {
	store    *fakeStore
	id       int64
	released chan struct{}
}

func newFakeLock(store *fakeStore, id int64) *fakeLock {
	return &fakeLock{store: store, id: id, released: make(chan struct{})}
}

func (l *fakeLock) Release(context.Context) error {
	l.store.mu.Lock()
	delete(l.store.locked, l.id)
	l.store.mu.Unlock()
	close(l.released)
	return nil
}

// fakeStore is an in-memory subscription.EventStore satisfying the
// Cursor Store, Event Source, Exclusive Lock, and Notifier Fan-in ports
// entirely in Go slices/maps, the way the teacher's own in-package test
// fakes stand in for *postgres.EventStore without a live database.
type fakeStore struct {
	mu sync.Mutex

	allEvents    []eventlog.Event
	byStream     map[string][]eventlog.Event
	rows         map[string]*eventlog.SubscriptionRow
	nextRowID    int64
	locked       map[int64]bool
	busListeners map[string][]chan postgres.NotifyPosition
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byStream:     make(map[string][]eventlog.Event),
		rows:         make(map[string]*eventlog.SubscriptionRow),
		locked:       make(map[int64]bool),
		busListeners: make(map[string][]chan postgres.NotifyPosition),
	}
}

func rowKey(streamUUID, name string) string { return streamUUID + "::" + name }

func (f *fakeStore) LocateOrCreateSubscription(_ context.Context, streamUUID, name string, startEventNumber, startStreamVersion int64) (eventlog.SubscriptionRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := rowKey(streamUUID, name)
	if row, ok := f.rows[key]; ok {
		return *row, nil
	}

	f.nextRowID++
	row := &eventlog.SubscriptionRow{
		ID:                    f.nextRowID,
		StreamUUID:            streamUUID,
		Name:                  name,
		LastSeenEventNumber:   startEventNumber,
		LastSeenStreamVersion: startStreamVersion,
	}
	f.rows[key] = row
	return *row, nil
}

func (f *fakeStore) UpdateCursor(_ context.Context, id int64, lastSeenEventNumber, lastSeenStreamVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, row := range f.rows {
		if row.ID == id {
			row.LastSeenEventNumber = lastSeenEventNumber
			row.LastSeenStreamVersion = lastSeenStreamVersion
			return nil
		}
	}
	return nil
}

func (f *fakeStore) ReadStreamForward(_ context.Context, streamUUID string, afterVersion int64, limit int) ([]eventlog.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []eventlog.Event
	for _, e := range f.byStream[streamUUID] {
		if e.StreamVersion > afterVersion {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ReadAllForward(_ context.Context, afterEventNumber int64, limit int) ([]eventlog.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []eventlog.Event
	for _, e := range f.allEvents {
		if e.EventNumber > afterEventNumber {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) TryAcquireLock(_ context.Context, id int64) (subscription.Lock, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.locked[id] {
		return nil, false, nil
	}
	f.locked[id] = true
	return newFakeLock(f, id), true, nil
}

func (f *fakeStore) SubscribeToBus(ctx context.Context, streamUUID string) (<-chan postgres.NotifyPosition, <-chan error, error) {
	f.mu.Lock()
	posCh := make(chan postgres.NotifyPosition, 4)
	f.busListeners[streamUUID] = append(f.busListeners[streamUUID], posCh)
	f.mu.Unlock()

	errCh := make(chan error)
	go func() {
		<-ctx.Done()
		close(errCh)
	}()
	return posCh, errCh, nil
}

// append adds an event to both the $all log and its stream's log, then
// notifies any registered bus listeners — standing in for an
// append_to_stream commit followed by SELECT pg_notify(...).
func (f *fakeStore) append(e eventlog.Event) {
	f.mu.Lock()
	f.allEvents = append(f.allEvents, e)
	f.byStream[e.StreamUUID] = append(f.byStream[e.StreamUUID], e)
	allPos := e.EventNumber
	streamListeners := append([]chan postgres.NotifyPosition{}, f.busListeners[e.StreamUUID]...)
	allListeners := append([]chan postgres.NotifyPosition{}, f.busListeners[eventlog.AllStreams]...)
	streamPos := e.StreamVersion
	f.mu.Unlock()

	for _, ch := range allListeners {
		select {
		case ch <- postgres.NotifyPosition{Position: allPos}:
		default:
		}
	}
	for _, ch := range streamListeners {
		select {
		case ch <- postgres.NotifyPosition{Position: streamPos}:
		default:
		}
	}
}

// seedStream populates n events on streamUUID with dense, ascending
// event_number/stream_version starting at startEventNumber/1.
func (f *fakeStore) seedStream(streamUUID string, n int, startEventNumber int64) {
	for i := 0; i < n; i++ {
		f.append(eventlog.Event{
			EventNumber:   startEventNumber + int64(i),
			StreamUUID:    streamUUID,
			StreamVersion: int64(i + 1),
			EventType:     "seeded",
		})
	}
}

func (f *fakeStore) rowFor(streamUUID, name string) eventlog.SubscriptionRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[rowKey(streamUUID, name)]
}

// sortedStreamKeys is a small helper kept for readability in specs that
// print diagnostics on failure; not load-bearing to FSM behavior itself.
func (f *fakeStore) sortedStreamKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.byStream))
	for k := range f.byStream {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
