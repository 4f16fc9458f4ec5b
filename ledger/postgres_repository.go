// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresRepository implements Repository using PostgreSQL.
//
// The balance mutation is a single conditional UPDATE with arithmetic on
// the stored value, so the double-spend race between two pre-flight
// checks that both observed sufficient balance is eliminated at the
// storage level: whichever deduction commits second still subtracts from
// the value the first one left behind.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetBalance reads the latest committed balance for a tenant
func (r *PostgresRepository) GetBalance(ctx context.Context, tenantID string) (int64, error) {
	var amount int64
	err := r.db.QueryRowContext(ctx,
		`SELECT amount_cents FROM balances WHERE tenant_id = $1`, tenantID,
	).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, ErrTenantNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return amount, nil
}

// ApplyDebit atomically subtracts the amount and appends the debit row
func (r *PostgresRepository) ApplyDebit(ctx context.Context, tx *Transaction) (int64, error) {
	return r.apply(ctx, tx, -tx.AmountCents, false)
}

// ApplyCredit atomically adds the amount and appends the credit row,
// creating the balance row on first credit
func (r *PostgresRepository) ApplyCredit(ctx context.Context, tx *Transaction) (int64, error) {
	return r.apply(ctx, tx, tx.AmountCents, true)
}

// apply runs the balance update and the transaction insert inside one
// database transaction. The UPDATE's row lock serializes concurrent
// applies for the same tenant; the arithmetic happens in SQL so no stale
// read can be written back.
func (r *PostgresRepository) apply(ctx context.Context, tx *Transaction, delta int64, upsert bool) (int64, error) {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = dbTx.Rollback() }()

	var balanceAfter int64
	if upsert {
		err = dbTx.QueryRowContext(ctx, `
			INSERT INTO balances (tenant_id, amount_cents, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (tenant_id) DO UPDATE SET
				amount_cents = balances.amount_cents + $2,
				updated_at = NOW()
			RETURNING amount_cents
		`, tx.TenantID, delta).Scan(&balanceAfter)
	} else {
		err = dbTx.QueryRowContext(ctx, `
			UPDATE balances
			SET amount_cents = amount_cents + $2, updated_at = NOW()
			WHERE tenant_id = $1
			RETURNING amount_cents
		`, tx.TenantID, delta).Scan(&balanceAfter)
		if err == sql.ErrNoRows {
			return 0, ErrTenantNotFound
		}
	}
	if err != nil {
		return 0, classifyConflict(err)
	}

	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}

	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO balance_transactions (
			id, tenant_id, direction, amount_cents, reason, metadata,
			balance_after_cents, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		tx.ID, tx.TenantID, string(tx.Direction), tx.AmountCents, tx.Reason,
		metadata, balanceAfter, tx.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transaction: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return 0, classifyConflict(err)
	}

	tx.BalanceAfterCents = balanceAfter
	return balanceAfter, nil
}

// ListTransactions returns the newest transactions for a tenant
func (r *PostgresRepository) ListTransactions(ctx context.Context, tenantID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, direction, amount_cents, reason, metadata,
		       balance_after_cents, created_at
		FROM balance_transactions
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var tx Transaction
		var direction string
		var metadata []byte

		err := rows.Scan(
			&tx.ID, &tx.TenantID, &direction, &tx.AmountCents, &tx.Reason,
			&metadata, &tx.BalanceAfterCents, &tx.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		tx.Direction = Direction(direction)
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &tx.Metadata)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// classifyConflict maps Postgres serialization and deadlock failures to
// ErrLedgerConflict so the service layer can retry them.
func classifyConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		if pqErr.Code == "40001" || pqErr.Code == "40P01" {
			return ErrLedgerConflict
		}
	}
	return fmt.Errorf("failed to apply ledger mutation: %w", err)
}
