// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

package incident

import "errors"

var (
	// ErrNotFound is returned when no matching active record exists
	ErrNotFound = errors.New("incident not found")
)
