// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

// Package incident maintains tenant-scoped durable failure records.
// An unresolved record blocks the matching category of actions until an
// operator or remediation flow explicitly resolves it; the gating core
// never auto-resolves.
package incident

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Category classifies which kind of action an incident blocks
type Category string

const (
	CategoryPayment     Category = "payment"
	CategoryAI          Category = "ai"
	CategoryMessaging   Category = "messaging"
	CategoryBooking     Category = "booking"
	CategoryIntegration Category = "integration"
	CategoryCompliance  Category = "compliance"
)

// Severity indicates how urgent an incident is for operators
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// FailureRecord is a durable, tenant-scoped incident. Active means
// ResolvedAt is nil; active records persist indefinitely and block
// matching-category actions.
type FailureRecord struct {
	ID         string                 `json:"id"`
	TenantID   string                 `json:"tenant_id"`
	Category   Category               `json:"category"`
	Source     string                 `json:"source"`
	Severity   Severity               `json:"severity"`
	Message    string                 `json:"message"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	DedupKey   string                 `json:"dedup_key"`
	RaisedAt   time.Time              `json:"raised_at"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
	ResolvedBy string                 `json:"resolved_by,omitempty"`
}

// Active reports whether the record still blocks actions
func (r *FailureRecord) Active() bool {
	return r.ResolvedAt == nil
}

// dedupKey derives the idempotency key for a raise: a duplicate raise
// with the same tenant, category and message while a matching active
// record exists must not create a second record. Length-prefixed to
// prevent collisions between field boundaries.
func dedupKey(tenantID string, category Category, message string) string {
	input := fmt.Sprintf("%d:%s|%d:%s|%d:%s",
		len(tenantID), tenantID,
		len(string(category)), string(category),
		len(message), message,
	)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
