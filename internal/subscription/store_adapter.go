// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package subscription

import (
	"context"

	"github.com/holoevents/eventstore/internal/postgres"
)

// storeAdapter narrows *postgres.EventStore's concrete *AdvisoryLock return
// value down to the Lock interface this package depends on. Every other
// method postgres.EventStore already matches EventStore's signatures
// exactly and needs no translation.
type storeAdapter struct {
	*postgres.EventStore
}

// Adapt wraps a *postgres.EventStore as the EventStore port this package
// consumes.
func Adapt(store *postgres.EventStore) EventStore {
	return storeAdapter{store}
}

func (a storeAdapter) TryAcquireLock(ctx context.Context, id int64) (Lock, bool, error) {
	lock, ok, err := a.EventStore.TryAcquireLock(ctx, id)
	if !ok || err != nil {
		return nil, ok, err
	}
	return lock, true, nil
}
