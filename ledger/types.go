// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

// Package ledger holds tenant prepaid balances and the append-only
// transaction history behind them. All balance mutations are atomic with
// respect to concurrent requests; the transaction rows are the ledger's
// source of truth.
package ledger

import "time"

// Direction distinguishes debits from credits
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// Transaction is an immutable ledger entry. BalanceAfterCents records the
// balance the mutation left behind, so the history alone reconstructs the
// balance at any point.
type Transaction struct {
	ID                string                 `json:"id"`
	TenantID          string                 `json:"tenant_id"`
	Direction         Direction              `json:"direction"`
	AmountCents       int64                  `json:"amount_cents"`
	Reason            string                 `json:"reason"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	BalanceAfterCents int64                  `json:"balance_after_cents"`
	CreatedAt         time.Time              `json:"created_at"`
}

// Balance is a tenant's current prepaid credit
type Balance struct {
	TenantID    string    `json:"tenant_id"`
	AmountCents int64     `json:"amount_cents"`
	UpdatedAt   time.Time `json:"updated_at"`
}
