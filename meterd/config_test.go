// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

package meterd

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("GATEWISE_CONFIG", "")

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error without JWT_SECRET")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("GATEWISE_CONFIG", "")
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Port != "8090" {
		t.Errorf("expected default port 8090, got %s", cfg.Port)
	}
	if cfg.AuditQueueSize != 1000 || cfg.AuditWorkers != 2 {
		t.Errorf("unexpected audit defaults: %d/%d", cfg.AuditQueueSize, cfg.AuditWorkers)
	}
	if time.Duration(cfg.TenantCacheTTL) != 30*time.Second {
		t.Errorf("unexpected cache TTL: %s", time.Duration(cfg.TenantCacheTTL))
	}
}

func TestLoadConfigYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meterd.yaml")
	yaml := `
port: "9999"
jwt_secret: from-file
audit_queue_size: 50
tenant_cache_ttl: 10s
`
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("GATEWISE_CONFIG", path)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("PORT", "7777") // env beats file
	t.Setenv("AUDIT_QUEUE_SIZE", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Port != "7777" {
		t.Errorf("env PORT should win, got %s", cfg.Port)
	}
	if cfg.JWTSecret != "from-file" {
		t.Errorf("expected secret from file, got %s", cfg.JWTSecret)
	}
	if cfg.AuditQueueSize != 50 {
		t.Errorf("expected queue size 50, got %d", cfg.AuditQueueSize)
	}
	if time.Duration(cfg.TenantCacheTTL) != 10*time.Second {
		t.Errorf("expected 10s TTL, got %s", time.Duration(cfg.TenantCacheTTL))
	}
}
