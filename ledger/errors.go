// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

package ledger

import "errors"

var (
	// ErrTenantNotFound is returned when no balance row exists for a tenant
	ErrTenantNotFound = errors.New("tenant balance not found")

	// ErrInvalidAmount is returned for zero or negative mutation amounts
	ErrInvalidAmount = errors.New("amount must be greater than 0")

	// ErrLedgerConflict is returned after the bounded retries for
	// concurrent-update collisions are exhausted
	ErrLedgerConflict = errors.New("ledger conflict: concurrent update collision")
)
