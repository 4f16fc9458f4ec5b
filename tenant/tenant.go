// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

// Package tenant loads tenant records and their capability toggles. The
// gate consults these toggles after the global kill switches, so a
// tenant-level disable wins over anything the persona table allows.
package tenant

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a tenant does not exist
var ErrNotFound = errors.New("tenant not found")

// Tenant is one customer account with its plan and capability toggles
type Tenant struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Persona             string    `json:"persona"`
	PlanID              string    `json:"plan_id"`
	AIEnabled           bool      `json:"ai_enabled"`
	MessagingEnabled    bool      `json:"messaging_enabled"`
	BookingsEnabled     bool      `json:"bookings_enabled"`
	WalletEnabled       bool      `json:"wallet_enabled"`
	IntegrationsEnabled bool      `json:"integrations_enabled"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// CapabilityFor reports whether the tenant has the capability backing an
// action kind switched on. Kinds without a dedicated toggle (signup) are
// always on at the tenant level.
func (t *Tenant) CapabilityFor(kind string) bool {
	switch kind {
	case "ai_reply":
		return t.AIEnabled
	case "message_send":
		return t.MessagingEnabled
	case "booking":
		return t.BookingsEnabled
	case "payment_link":
		return t.WalletEnabled
	case "integration_sync":
		return t.IntegrationsEnabled
	default:
		return true
	}
}
