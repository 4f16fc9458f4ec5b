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

// Package audit provides the append-only trail of every gating decision.
// Writes are best-effort and asynchronous: a failure to persist an audit
// event never blocks or fails the action that produced it.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// ActorType identifies who caused an audited event
type ActorType string

const (
	ActorSystem   ActorType = "system"
	ActorOperator ActorType = "operator"
	ActorTenant   ActorType = "tenant"
)

// Event types emitted by the gating pipeline and operator surface.
const (
	EventActionDenied     = "action_denied"
	EventActionBlocked    = "action_blocked"
	EventQuotaExceeded    = "quota_exceeded"
	EventIncidentRaised   = "incident_raised"
	EventIncidentResolved = "incident_resolved"
	EventCostDeducted     = "cost_deducted"
	EventBalanceCredited  = "balance_credited"
	EventWorkFailed       = "work_failed"
	EventFlagUpdated      = "flag_updated"
)

// Event is a single append-only audit record. Metadata carries enough
// context (reason, limit/current, cost, balance) to reconstruct the
// decision later without joining other tables.
type Event struct {
	ID         string                 `json:"id"`
	ActorType  ActorType              `json:"actor_type"`
	ActorID    string                 `json:"actor_id,omitempty"`
	EventType  string                 `json:"event_type"`
	EntityType string                 `json:"entity_type,omitempty"`
	EntityID   string                 `json:"entity_id,omitempty"`
	TenantID   string                 `json:"tenant_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`

	// Retries is internal delivery state, never persisted
	Retries int `json:"-"`
}

// Sink accepts audit events. Implementations must never block the caller
// and must never propagate write failures.
type Sink interface {
	Log(event Event)
}

// normalize fills in identity and timestamp defaults on an event
func normalize(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.ActorType == "" {
		event.ActorType = ActorSystem
	}
}
