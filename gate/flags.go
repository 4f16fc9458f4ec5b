// Copyright 2025 Gatewise
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gate

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// System flag keys. incident_mode is the master switch: when set, every
// gated action on the platform is refused regardless of the other flags.
const (
	FlagIncidentMode       = "incident_mode"
	FlagAIGlobal           = "ai_global_enabled"
	FlagPaymentsGlobal     = "payments_global_enabled"
	FlagBookingsGlobal     = "bookings_global_enabled"
	FlagMessagingGlobal    = "messaging_global_enabled"
	FlagIntegrationsGlobal = "integrations_global_enabled"
	FlagSignupsGlobal      = "signups_global_enabled"
)

// killSwitchForKind maps an action kind to the flag that can disable it
// platform-wide. Kinds without an entry have no kill switch.
var killSwitchForKind = map[string]string{
	"ai_reply":         FlagAIGlobal,
	"payment_link":     FlagPaymentsGlobal,
	"booking":          FlagBookingsGlobal,
	"message_send":     FlagMessagingGlobal,
	"integration_sync": FlagIntegrationsGlobal,
	"signup":           FlagSignupsGlobal,
}

// SystemFlag is one operator-controlled switch
type SystemFlag struct {
	Key       string    `json:"key"`
	Enabled   bool      `json:"enabled"`
	Version   int64     `json:"version"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FlagSnapshot is a point-in-time view of all system flags. Gate checks
// within one request read a single snapshot so a mid-flight flag flip
// cannot produce a half-applied decision.
type FlagSnapshot struct {
	Flags   map[string]SystemFlag
	TakenAt time.Time
}

// Enabled reports whether a flag is on. Unknown flags default to off for
// incident_mode and on for kill switches, so a missing row never blocks
// traffic but also never masks an incident.
func (s *FlagSnapshot) Enabled(key string) bool {
	if flag, ok := s.Flags[key]; ok {
		return flag.Enabled
	}
	return key != FlagIncidentMode
}

// FlagStore reads and writes system flags
type FlagStore interface {
	Snapshot(ctx context.Context) (*FlagSnapshot, error)
	SetFlag(ctx context.Context, key string, enabled bool, updatedBy string) (*SystemFlag, error)
}

// snapshotTTL bounds how stale a gating decision's view of the flags can
// be. Ops runbooks assume a flag flip takes effect within 5 seconds.
const snapshotTTL = 5 * time.Second

// PostgresFlagStore reads flags from Postgres with a short-lived snapshot
// cache shared by all gate checks
type PostgresFlagStore struct {
	db *sql.DB

	mu       sync.RWMutex
	snapshot *FlagSnapshot
}

// NewPostgresFlagStore creates a Postgres-backed flag store
func NewPostgresFlagStore(db *sql.DB) *PostgresFlagStore {
	return &PostgresFlagStore{db: db}
}

// Snapshot returns the current flag snapshot, refreshing from the
// database when the cached one is older than the TTL
func (s *PostgresFlagStore) Snapshot(ctx context.Context) (*FlagSnapshot, error) {
	s.mu.RLock()
	cached := s.snapshot
	s.mu.RUnlock()

	if cached != nil && time.Since(cached.TakenAt) < snapshotTTL {
		return cached, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT key, enabled, version, updated_by, updated_at FROM system_flags")
	if err != nil {
		// Serve the stale snapshot over failing every action in flight
		if cached != nil {
			return cached, nil
		}
		return nil, fmt.Errorf("failed to load system flags: %w", err)
	}
	defer rows.Close()

	flags := make(map[string]SystemFlag)
	for rows.Next() {
		var f SystemFlag
		if err := rows.Scan(&f.Key, &f.Enabled, &f.Version, &f.UpdatedBy, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan system flag: %w", err)
		}
		flags[f.Key] = f
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load system flags: %w", err)
	}

	snapshot := &FlagSnapshot{Flags: flags, TakenAt: time.Now()}

	s.mu.Lock()
	s.snapshot = snapshot
	s.mu.Unlock()

	return snapshot, nil
}

// SetFlag upserts a flag, bumping its version, and drops the cached
// snapshot so the change is visible on the next check
func (s *PostgresFlagStore) SetFlag(ctx context.Context, key string, enabled bool, updatedBy string) (*SystemFlag, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO system_flags (key, enabled, version, updated_by, updated_at)
		VALUES ($1, $2, 1, $3, NOW())
		ON CONFLICT (key) DO UPDATE
		SET enabled = $2, version = system_flags.version + 1, updated_by = $3, updated_at = NOW()
		RETURNING key, enabled, version, updated_by, updated_at`,
		key, enabled, updatedBy)

	var f SystemFlag
	if err := row.Scan(&f.Key, &f.Enabled, &f.Version, &f.UpdatedBy, &f.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to set flag %s: %w", key, err)
	}

	s.mu.Lock()
	s.snapshot = nil
	s.mu.Unlock()

	return &f, nil
}

// MemoryFlagStore is an in-memory flag store for tests and development
type MemoryFlagStore struct {
	mu    sync.RWMutex
	flags map[string]SystemFlag
}

// NewMemoryFlagStore creates an empty in-memory flag store
func NewMemoryFlagStore() *MemoryFlagStore {
	return &MemoryFlagStore{flags: make(map[string]SystemFlag)}
}

// Snapshot returns a copy of the current flags
func (s *MemoryFlagStore) Snapshot(ctx context.Context) (*FlagSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flags := make(map[string]SystemFlag, len(s.flags))
	for k, v := range s.flags {
		flags[k] = v
	}
	return &FlagSnapshot{Flags: flags, TakenAt: time.Now()}, nil
}

// SetFlag upserts a flag, bumping its version
func (s *MemoryFlagStore) SetFlag(ctx context.Context, key string, enabled bool, updatedBy string) (*SystemFlag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.flags[key]
	f.Key = key
	f.Enabled = enabled
	f.Version++
	f.UpdatedBy = updatedBy
	f.UpdatedAt = time.Now().UTC()
	s.flags[key] = f

	return &f, nil
}
