// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

package ledger

import "context"

// Repository defines the interface for balance and transaction
// persistence. Apply operations must mutate the balance and append the
// transaction as a single indivisible unit: two concurrent applies can
// never interleave into a lost update.
type Repository interface {
	// GetBalance reads the latest committed balance, never a cache
	GetBalance(ctx context.Context, tenantID string) (int64, error)

	// ApplyDebit atomically subtracts the transaction amount and records
	// the debit row. The balance is allowed to go negative. Returns the
	// balance after the mutation.
	ApplyDebit(ctx context.Context, tx *Transaction) (int64, error)

	// ApplyCredit atomically adds the transaction amount and records the
	// credit row. Creates the balance row if the tenant has none yet.
	ApplyCredit(ctx context.Context, tx *Transaction) (int64, error)

	// ListTransactions returns the newest transactions for a tenant
	ListTransactions(ctx context.Context, tenantID string, limit int) ([]Transaction, error)

	// Ping checks connectivity
	Ping(ctx context.Context) error
}
