// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

package incident

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultDedupWindow bounds how far back a duplicate raise is matched
// against an existing active record.
const DefaultDedupWindow = 24 * time.Hour

// Log stores and queries failure records.
//
// The log can operate in two modes:
//   - Database mode: persists records to PostgreSQL (production)
//   - Memory mode: keeps records in memory (testing)
//
// All methods are safe for concurrent use.
type Log struct {
	db          *sql.DB
	useMemory   bool
	dedupWindow time.Duration
	now         func() time.Time

	mu          sync.RWMutex
	memoryStore map[string]*FailureRecord // keyed by record ID
}

// LogConfig holds configuration for the incident log
type LogConfig struct {
	// DB is the PostgreSQL connection. If nil, the log operates in
	// memory mode.
	DB *sql.DB

	// DedupWindow overrides DefaultDedupWindow when > 0
	DedupWindow time.Duration

	// Now overrides the clock (testing)
	Now func() time.Time
}

// NewLog creates an incident log
func NewLog(config LogConfig) *Log {
	if config.DedupWindow <= 0 {
		config.DedupWindow = DefaultDedupWindow
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}

	l := &Log{
		db:          config.DB,
		useMemory:   config.DB == nil,
		dedupWindow: config.DedupWindow,
		now:         config.Now,
		memoryStore: make(map[string]*FailureRecord),
	}

	if l.useMemory {
		log.Println("[Incident] Running in memory mode (no database)")
	}
	return l
}

// Raise records a failure. It is idempotent within the dedup window: a
// second raise with the same tenant+category+message while a matching
// active record exists returns created=false and leaves one record.
func (l *Log) Raise(ctx context.Context, record FailureRecord) (bool, error) {
	if record.TenantID == "" {
		return false, fmt.Errorf("tenant id is required")
	}
	if record.Category == "" {
		return false, fmt.Errorf("category is required")
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Severity == "" {
		record.Severity = SeverityMedium
	}
	if record.RaisedAt.IsZero() {
		record.RaisedAt = l.now()
	}
	record.DedupKey = dedupKey(record.TenantID, record.Category, record.Message)

	if l.useMemory {
		return l.raiseToMemory(record), nil
	}
	return l.raiseToDB(ctx, record)
}

func (l *Log) raiseToMemory(record FailureRecord) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.dedupWindow)
	for _, existing := range l.memoryStore {
		if existing.Active() && existing.DedupKey == record.DedupKey && existing.RaisedAt.After(cutoff) {
			return false
		}
	}

	copied := record
	l.memoryStore[record.ID] = &copied
	return true
}

func (l *Log) raiseToDB(ctx context.Context, record FailureRecord) (bool, error) {
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}

	// The partial unique index on (dedup_key) WHERE resolved_at IS NULL
	// makes the raise a single atomic statement: a concurrent duplicate
	// inserts zero rows instead of a second active record.
	query := `
		INSERT INTO failure_records (
			id, tenant_id, category, source, severity, message,
			metadata, dedup_key, raised_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (dedup_key) WHERE resolved_at IS NULL DO NOTHING
	`

	result, err := l.db.ExecContext(ctx, query,
		record.ID, record.TenantID, string(record.Category), record.Source,
		string(record.Severity), record.Message, metadata, record.DedupKey,
		record.RaisedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to raise incident: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return rows > 0, nil
}

// CheckBlockers returns the active failure records for a tenant,
// optionally restricted to one category. Called after the policy gate
// passes and before any billable work.
func (l *Log) CheckBlockers(ctx context.Context, tenantID string, category Category) ([]FailureRecord, error) {
	if l.useMemory {
		l.mu.RLock()
		defer l.mu.RUnlock()

		var out []FailureRecord
		for _, r := range l.memoryStore {
			if r.TenantID != tenantID || !r.Active() {
				continue
			}
			if category != "" && r.Category != category {
				continue
			}
			out = append(out, *r)
		}
		return out, nil
	}

	query := `
		SELECT id, tenant_id, category, source, severity, message,
		       metadata, dedup_key, raised_at, resolved_at, COALESCE(resolved_by, '')
		FROM failure_records
		WHERE tenant_id = $1 AND resolved_at IS NULL
	`
	args := []interface{}{tenantID}
	if category != "" {
		query += ` AND category = $2`
		args = append(args, string(category))
	}
	query += ` ORDER BY raised_at DESC`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query blockers: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Resolve clears an active record. Resolution is an explicit operator or
// remediation action; there is no automatic path here.
func (l *Log) Resolve(ctx context.Context, id, resolvedBy string) error {
	resolvedAt := l.now()

	if l.useMemory {
		l.mu.Lock()
		defer l.mu.Unlock()

		r, ok := l.memoryStore[id]
		if !ok || !r.Active() {
			return ErrNotFound
		}
		r.ResolvedAt = &resolvedAt
		r.ResolvedBy = resolvedBy
		return nil
	}

	query := `
		UPDATE failure_records
		SET resolved_at = $2, resolved_by = $3
		WHERE id = $1 AND resolved_at IS NULL
	`
	result, err := l.db.ExecContext(ctx, query, id, resolvedAt, resolvedBy)
	if err != nil {
		return fmt.Errorf("failed to resolve incident: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListForTenant returns recent records for a tenant, resolved included
func (l *Log) ListForTenant(ctx context.Context, tenantID string, limit int) ([]FailureRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	if l.useMemory {
		l.mu.RLock()
		defer l.mu.RUnlock()

		var out []FailureRecord
		for _, r := range l.memoryStore {
			if r.TenantID == tenantID {
				out = append(out, *r)
			}
			if len(out) >= limit {
				break
			}
		}
		return out, nil
	}

	query := `
		SELECT id, tenant_id, category, source, severity, message,
		       metadata, dedup_key, raised_at, resolved_at, COALESCE(resolved_by, '')
		FROM failure_records
		WHERE tenant_id = $1
		ORDER BY raised_at DESC
		LIMIT $2
	`

	rows, err := l.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]FailureRecord, error) {
	var out []FailureRecord
	for rows.Next() {
		var r FailureRecord
		var category, severity string
		var metadata []byte
		var resolvedAt sql.NullTime

		err := rows.Scan(
			&r.ID, &r.TenantID, &category, &r.Source, &severity, &r.Message,
			&metadata, &r.DedupKey, &r.RaisedAt, &resolvedAt, &r.ResolvedBy,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Category = Category(category)
		r.Severity = Severity(severity)
		if resolvedAt.Valid {
			t := resolvedAt.Time
			r.ResolvedAt = &t
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &r.Metadata)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
