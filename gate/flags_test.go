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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func flagRows(flags ...SystemFlag) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"key", "enabled", "version", "updated_by", "updated_at"})
	for _, f := range flags {
		rows.AddRow(f.Key, f.Enabled, f.Version, f.UpdatedBy, f.UpdatedAt)
	}
	return rows
}

func TestPostgresSnapshotCachesWithinTTL(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := NewPostgresFlagStore(db)
	now := time.Now().UTC()

	// One query only; the second Snapshot must reuse the cached view
	mock.ExpectQuery("SELECT key, enabled, version, updated_by, updated_at FROM system_flags").
		WillReturnRows(flagRows(
			SystemFlag{Key: FlagIncidentMode, Enabled: true, Version: 3, UpdatedBy: "op-1", UpdatedAt: now},
			SystemFlag{Key: FlagAIGlobal, Enabled: false, Version: 1, UpdatedBy: "op-1", UpdatedAt: now},
		))

	ctx := context.Background()
	first, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if !first.Enabled(FlagIncidentMode) {
		t.Error("incident_mode should be on")
	}
	if first.Enabled(FlagAIGlobal) {
		t.Error("ai kill switch should be off")
	}

	second, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("cached Snapshot failed: %v", err)
	}
	if second != first {
		t.Error("expected the cached snapshot instance")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresSetFlagBumpsVersionAndDropsCache(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := NewPostgresFlagStore(db)
	now := time.Now().UTC()
	ctx := context.Background()

	mock.ExpectQuery("SELECT key, enabled, version, updated_by, updated_at FROM system_flags").
		WillReturnRows(flagRows())

	if _, err := store.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	mock.ExpectQuery("INSERT INTO system_flags").
		WithArgs(FlagPaymentsGlobal, false, "op-2").
		WillReturnRows(flagRows(SystemFlag{
			Key: FlagPaymentsGlobal, Enabled: false, Version: 4, UpdatedBy: "op-2", UpdatedAt: now,
		}))

	flag, err := store.SetFlag(ctx, FlagPaymentsGlobal, false, "op-2")
	if err != nil {
		t.Fatalf("SetFlag failed: %v", err)
	}
	if flag.Version != 4 || flag.Enabled {
		t.Errorf("unexpected flag: %+v", flag)
	}

	// Cache was dropped, so the next snapshot hits the database again
	mock.ExpectQuery("SELECT key, enabled, version, updated_by, updated_at FROM system_flags").
		WillReturnRows(flagRows(*flag))

	snapshot, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snapshot.Enabled(FlagPaymentsGlobal) {
		t.Error("payments kill switch should be off after the update")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMemoryFlagStoreVersions(t *testing.T) {
	store := NewMemoryFlagStore()
	ctx := context.Background()

	first, err := store.SetFlag(ctx, FlagIncidentMode, true, "op-1")
	if err != nil {
		t.Fatalf("SetFlag failed: %v", err)
	}
	second, err := store.SetFlag(ctx, FlagIncidentMode, false, "op-2")
	if err != nil {
		t.Fatalf("SetFlag failed: %v", err)
	}

	if first.Version != 1 || second.Version != 2 {
		t.Errorf("expected versions 1 and 2, got %d and %d", first.Version, second.Version)
	}
	if second.UpdatedBy != "op-2" {
		t.Errorf("expected op-2, got %s", second.UpdatedBy)
	}
}
