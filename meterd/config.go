// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

// Package meterd assembles the gating and metering service: Postgres and
// Redis connections, the audit queue, the policy gate, the action
// pipeline, and the HTTP surfaces.
package meterd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse
type Duration time.Duration

// UnmarshalYAML parses a Go duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds everything the daemon needs to start. Values load from an
// optional YAML file first, then environment variables override.
type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	JWTSecret   string `yaml:"jwt_secret"`

	AuditQueueSize    int    `yaml:"audit_queue_size"`
	AuditWorkers      int    `yaml:"audit_workers"`
	AuditFallbackPath string `yaml:"audit_fallback_path"`

	TenantCacheTTL Duration `yaml:"tenant_cache_ttl"`
}

// LoadConfig builds the daemon configuration. GATEWISE_CONFIG names an
// optional YAML file; individual environment variables win over it.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:              "8090",
		AuditQueueSize:    1000,
		AuditWorkers:      2,
		AuditFallbackPath: "audit_fallback.jsonl",
		TenantCacheTTL:    Duration(30 * time.Second),
	}

	if path := os.Getenv("GATEWISE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("AUDIT_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AuditQueueSize = n
		}
	}
	if v := os.Getenv("AUDIT_FALLBACK_PATH"); v != "" {
		cfg.AuditFallbackPath = v
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}
