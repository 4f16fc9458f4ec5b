// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

package meterd

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are idempotent and run at startup, in order
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id VARCHAR(255) PRIMARY KEY,
		name VARCHAR(255) NOT NULL DEFAULT '',
		persona VARCHAR(50) NOT NULL DEFAULT 'generic',
		plan_id VARCHAR(50) NOT NULL DEFAULT 'starter',
		ai_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		messaging_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		bookings_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		wallet_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		integrations_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS system_flags (
		key VARCHAR(100) PRIMARY KEY,
		enabled BOOLEAN NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		updated_by VARCHAR(255) NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS balances (
		tenant_id VARCHAR(255) PRIMARY KEY,
		amount_cents BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS balance_transactions (
		id VARCHAR(255) PRIMARY KEY,
		tenant_id VARCHAR(255) NOT NULL,
		direction VARCHAR(10) NOT NULL,
		amount_cents BIGINT NOT NULL,
		reason VARCHAR(255) NOT NULL,
		metadata JSONB,
		balance_after_cents BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_balance_transactions_tenant
		ON balance_transactions (tenant_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS failure_records (
		id VARCHAR(255) PRIMARY KEY,
		tenant_id VARCHAR(255) NOT NULL,
		category VARCHAR(50) NOT NULL,
		source VARCHAR(255) NOT NULL DEFAULT '',
		severity VARCHAR(20) NOT NULL,
		message TEXT NOT NULL,
		metadata JSONB,
		dedup_key VARCHAR(64) NOT NULL,
		raised_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		resolved_at TIMESTAMPTZ,
		resolved_by VARCHAR(255)
	)`,

	// One active record per dedup key; resolved records do not collide
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_failure_records_active_dedup
		ON failure_records (dedup_key) WHERE resolved_at IS NULL`,

	`CREATE INDEX IF NOT EXISTS idx_failure_records_tenant_category
		ON failure_records (tenant_id, category) WHERE resolved_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS audit_events (
		id VARCHAR(255) PRIMARY KEY,
		actor_type VARCHAR(20) NOT NULL,
		actor_id VARCHAR(255),
		event_type VARCHAR(100) NOT NULL,
		entity_type VARCHAR(100),
		entity_id VARCHAR(255),
		tenant_id VARCHAR(255),
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_audit_events_tenant
		ON audit_events (tenant_id, created_at DESC)`,
}

// Migrate applies the schema. Every statement is idempotent, so running
// it on every startup is safe.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
