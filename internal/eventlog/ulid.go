// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package eventlog

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewCorrelationID mints a sortable-by-time ULID used to correlate a catch-up
// batch or a live notification through the logs. It is not part of the
// persisted Event; it exists purely for observability.
func NewCorrelationID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}
