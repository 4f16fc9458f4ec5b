// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

// Package main is the entry point for the Gatewise metering daemon.
//
// Meterd gates tenant actions, executes them, and meters usage and cost:
// - Policy gate (incident mode, kill switches, tenant and persona capabilities)
// - Incident blocking with idempotent raise and explicit resolve
// - Per-tenant daily and monthly usage quotas
// - Prepaid balance ledger with atomic deductions
// - Best-effort async audit trail
//
// Usage:
//
//	./meterd
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8090)
//	DATABASE_URL - PostgreSQL connection string (memory mode when unset)
//	REDIS_URL - Redis connection string for usage counters
//	JWT_SECRET - Secret for operator and tenant token validation
//	GATEWISE_CONFIG - Optional YAML config file
package main

import (
	"gatewise/platform/meterd"
)

func main() {
	meterd.Run()
}
