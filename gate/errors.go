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

import "fmt"

// Denial reason codes, stable identifiers surfaced to callers and audit
const (
	ReasonIncidentMode       = "incident_mode"
	ReasonKillSwitch         = "kill_switch"
	ReasonTenantDisabled     = "tenant_capability_disabled"
	ReasonPersonaUnsupported = "persona_unsupported"
	ReasonIncidentBlocked    = "incident_blocked"
	ReasonQuotaExceeded      = "quota_exceeded"
	ReasonInsufficientFunds  = "insufficient_balance"
	ReasonUnknownKind        = "unknown_kind"
	ReasonTenantNotFound     = "tenant_not_found"
)

// PolicyDenied is returned when a policy check refuses an action before
// any work runs
type PolicyDenied struct {
	ReasonCode string `json:"reason_code"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

func (e *PolicyDenied) Error() string {
	return fmt.Sprintf("action %s denied (%s): %s", e.Kind, e.ReasonCode, e.Message)
}

// IncidentBlocked is returned when an unresolved failure record blocks
// the action's category for the tenant
type IncidentBlocked struct {
	Kind     string `json:"kind"`
	Category string `json:"category"`
	Count    int    `json:"count"`
}

func (e *IncidentBlocked) Error() string {
	return fmt.Sprintf("action %s blocked: %d unresolved %s incident(s), resolve them to continue",
		e.Kind, e.Count, e.Category)
}

// QuotaExceeded is returned when a period usage counter has reached the
// plan limit
type QuotaExceeded struct {
	Kind     string `json:"kind"`
	Resource string `json:"resource"`
	Limit    int64  `json:"limit"`
	Current  int64  `json:"current"`
	Period   string `json:"period"`
}

func (e *QuotaExceeded) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %d of %d used in period %s, upgrade the plan or wait for the period to reset",
		e.Resource, e.Current, e.Limit, e.Period)
}

// InsufficientBalance is returned when the pre-flight cost estimate
// exceeds the tenant's available balance
type InsufficientBalance struct {
	Kind           string `json:"kind"`
	RequiredCents  int64  `json:"required_cents"`
	AvailableCents int64  `json:"available_cents"`
}

func (e *InsufficientBalance) Error() string {
	return fmt.Sprintf("insufficient balance for %s: need at least %d cents, have %d, top up to continue",
		e.Kind, e.RequiredCents, e.AvailableCents)
}
