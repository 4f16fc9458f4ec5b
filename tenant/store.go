// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

package tenant

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Store provides access to tenant records
type Store interface {
	Get(ctx context.Context, tenantID string) (*Tenant, error)
	SetCapability(ctx context.Context, tenantID, capability string, enabled bool) error
	Ping(ctx context.Context) error
}

const tenantColumns = `id, name, persona, plan_id, ai_enabled, messaging_enabled,
	bookings_enabled, wallet_enabled, integrations_enabled, created_at, updated_at`

var capabilityColumns = map[string]string{
	"ai":           "ai_enabled",
	"messaging":    "messaging_enabled",
	"bookings":     "bookings_enabled",
	"wallet":       "wallet_enabled",
	"integrations": "integrations_enabled",
}

// PostgresStore reads tenants from Postgres through a TTL cache
type PostgresStore struct {
	db    *sql.DB
	cache *Cache
}

// NewPostgresStore creates a Postgres-backed tenant store. cacheTTL <= 0
// uses the default.
func NewPostgresStore(db *sql.DB, cacheTTL time.Duration) *PostgresStore {
	return &PostgresStore{db: db, cache: NewCache(cacheTTL)}
}

// Get returns a tenant by ID, serving from cache when fresh
func (s *PostgresStore) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	if t, ok := s.cache.Get(tenantID); ok {
		return t, nil
	}

	query := fmt.Sprintf("SELECT %s FROM tenants WHERE id = $1", tenantColumns)
	row := s.db.QueryRowContext(ctx, query, tenantID)

	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Persona, &t.PlanID, &t.AIEnabled,
		&t.MessagingEnabled, &t.BookingsEnabled, &t.WalletEnabled,
		&t.IntegrationsEnabled, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}

	s.cache.Set(&t)
	return &t, nil
}

// SetCapability flips one capability toggle and invalidates the cache
// entry so the next gate check sees the change
func (s *PostgresStore) SetCapability(ctx context.Context, tenantID, capability string, enabled bool) error {
	column, ok := capabilityColumns[capability]
	if !ok {
		return fmt.Errorf("unknown capability: %s", capability)
	}

	query := fmt.Sprintf("UPDATE tenants SET %s = $2, updated_at = NOW() WHERE id = $1", column)
	result, err := s.db.ExecContext(ctx, query, tenantID, enabled)
	if err != nil {
		return fmt.Errorf("failed to update tenant %s: %w", tenantID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update tenant %s: %w", tenantID, err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.cache.Invalidate(tenantID)
	return nil
}

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// MemoryStore is an in-memory tenant store for tests and single-node
// development mode
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]*Tenant)}
}

// Put adds or replaces a tenant record
func (s *MemoryStore) Put(t *Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *t
	s.tenants[t.ID] = &copied
}

// Get returns a tenant by ID
func (s *MemoryStore) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *t
	return &copied, nil
}

// SetCapability flips one capability toggle
func (s *MemoryStore) SetCapability(ctx context.Context, tenantID, capability string, enabled bool) error {
	if _, ok := capabilityColumns[capability]; !ok {
		return fmt.Errorf("unknown capability: %s", capability)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return ErrNotFound
	}

	switch capability {
	case "ai":
		t.AIEnabled = enabled
	case "messaging":
		t.MessagingEnabled = enabled
	case "bookings":
		t.BookingsEnabled = enabled
	case "wallet":
		t.WalletEnabled = enabled
	case "integrations":
		t.IntegrationsEnabled = enabled
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Ping always succeeds for the in-memory store
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
