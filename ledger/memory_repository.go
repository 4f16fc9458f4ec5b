// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"sync"
)

// MemoryRepository implements Repository in memory. A single mutex makes
// each apply indivisible, mirroring the row-lock guarantee of the
// Postgres implementation. Used in tests and local development.
type MemoryRepository struct {
	mu           sync.Mutex
	balances     map[string]int64
	transactions map[string][]Transaction
}

// NewMemoryRepository creates an in-memory ledger repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		balances:     make(map[string]int64),
		transactions: make(map[string][]Transaction),
	}
}

// SetBalance seeds a tenant balance (testing)
func (r *MemoryRepository) SetBalance(tenantID string, amountCents int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[tenantID] = amountCents
}

// GetBalance returns the current balance for a tenant
func (r *MemoryRepository) GetBalance(_ context.Context, tenantID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	amount, ok := r.balances[tenantID]
	if !ok {
		return 0, ErrTenantNotFound
	}
	return amount, nil
}

// ApplyDebit atomically subtracts the amount and appends the debit row
func (r *MemoryRepository) ApplyDebit(_ context.Context, tx *Transaction) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.balances[tx.TenantID]; !ok {
		return 0, ErrTenantNotFound
	}

	r.balances[tx.TenantID] -= tx.AmountCents
	tx.BalanceAfterCents = r.balances[tx.TenantID]
	r.transactions[tx.TenantID] = append(r.transactions[tx.TenantID], *tx)
	return tx.BalanceAfterCents, nil
}

// ApplyCredit atomically adds the amount and appends the credit row
func (r *MemoryRepository) ApplyCredit(_ context.Context, tx *Transaction) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.balances[tx.TenantID] += tx.AmountCents
	tx.BalanceAfterCents = r.balances[tx.TenantID]
	r.transactions[tx.TenantID] = append(r.transactions[tx.TenantID], *tx)
	return tx.BalanceAfterCents, nil
}

// ListTransactions returns the newest transactions for a tenant
func (r *MemoryRepository) ListTransactions(_ context.Context, tenantID string, limit int) ([]Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.transactions[tenantID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}

	// Newest first
	out := make([]Transaction, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Ping always succeeds for the in-memory repository
func (r *MemoryRepository) Ping(_ context.Context) error {
	return nil
}
