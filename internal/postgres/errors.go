// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package postgres

import "errors"

// ErrNotFound is returned when a row expected to exist does not.
var ErrNotFound = errors.New("not found")
