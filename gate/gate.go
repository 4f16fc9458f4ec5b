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

// Package gate decides whether a tenant action may run and, through the
// pipeline, meters the actions it lets through. Checks run in a fixed
// order so the broadest switch always wins: platform incident mode, then
// the per-kind kill switch, then the tenant's own capability toggle,
// then the persona capability table.
package gate

import (
	"context"
	"fmt"

	"gatewise/platform/audit"
	"gatewise/platform/incident"
	"gatewise/platform/quota"
	"gatewise/platform/shared/logger"
	"gatewise/platform/tenant"
)

// Request describes one action a tenant wants to perform
type Request struct {
	RequestID string `json:"request_id"`
	TenantID  string `json:"tenant_id"`
	Kind      string `json:"kind"`
}

// incidentCategoryForKind maps an action kind to the incident category
// that can block it
var incidentCategoryForKind = map[string]incident.Category{
	KindAIReply:         incident.CategoryAI,
	KindPaymentLink:     incident.CategoryPayment,
	KindBooking:         incident.CategoryBooking,
	KindMessageSend:     incident.CategoryMessaging,
	KindIntegrationSync: incident.CategoryIntegration,
	KindSignup:          incident.CategoryCompliance,
}

// IncidentChecker is the slice of the incident log the gate needs: read
// blockers, and raise the payment record an insufficient balance leaves
// behind
type IncidentChecker interface {
	CheckBlockers(ctx context.Context, tenantID string, category incident.Category) ([]incident.FailureRecord, error)
	Raise(ctx context.Context, record incident.FailureRecord) (bool, error)
}

// QuotaChecker is the slice of the usage tracker the gate needs
type QuotaChecker interface {
	CheckDaily(ctx context.Context, tenantID, planID, resource string) (quota.Result, error)
	CheckMonthly(ctx context.Context, tenantID, planID, resource string) (quota.Result, error)
}

// BalanceChecker is the slice of the ledger the gate needs for the
// pre-flight estimate
type BalanceChecker interface {
	HasSufficientBalance(ctx context.Context, tenantID string, amountCents int64) (bool, int64, error)
}

// Estimator produces the minimum cost of an action before it runs
type Estimator interface {
	Estimate(kind, planID string) int64
}

// Gate runs the pre-flight checks for metered actions
type Gate struct {
	flags     FlagStore
	tenants   tenant.Store
	incidents IncidentChecker
	quota     QuotaChecker
	rates     Estimator
	balances  BalanceChecker
	audit     audit.Sink
	log       *logger.Logger
}

// GateConfig wires a Gate's dependencies
type GateConfig struct {
	Flags     FlagStore
	Tenants   tenant.Store
	Incidents IncidentChecker
	Quota     QuotaChecker
	Rates     Estimator
	Balances  BalanceChecker
	Audit     audit.Sink
}

// New creates a Gate
func New(cfg GateConfig) *Gate {
	return &Gate{
		flags:     cfg.Flags,
		tenants:   cfg.Tenants,
		incidents: cfg.Incidents,
		quota:     cfg.Quota,
		rates:     cfg.Rates,
		balances:  cfg.Balances,
		audit:     cfg.Audit,
		log:       logger.New("PolicyGate"),
	}
}

// CheckAction runs every pre-flight check for the request in order and
// returns the first denial. It performs no writes besides one audit
// event per denial, so callers may use it as a dry run.
func (g *Gate) CheckAction(ctx context.Context, req Request) error {
	tn, err := g.checkPolicy(ctx, req)
	if err != nil {
		return err
	}
	if tn != nil {
		if err := g.checkIncidents(ctx, req); err != nil {
			return err
		}
		if err := g.checkQuota(ctx, req, tn.PlanID); err != nil {
			return err
		}
		if _, err := g.checkBalance(ctx, req, tn.PlanID); err != nil {
			return err
		}
	}
	promGateDecisions.WithLabelValues(req.Kind, "allowed").Inc()
	return nil
}

// checkPolicy runs the four ordered policy checks and loads the tenant.
// A request without a tenant (pre-signup) is gated by the flags alone
// and returns a nil tenant.
func (g *Gate) checkPolicy(ctx context.Context, req Request) (*tenant.Tenant, error) {
	if !ValidKind(req.Kind) {
		return nil, g.deny(req, &PolicyDenied{
			ReasonCode: ReasonUnknownKind,
			Kind:       req.Kind,
			Message:    fmt.Sprintf("%q is not a gated action kind", req.Kind),
		})
	}

	snapshot, err := g.flags.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read system flags: %w", err)
	}

	if snapshot.Enabled(FlagIncidentMode) {
		return nil, g.deny(req, &PolicyDenied{
			ReasonCode: ReasonIncidentMode,
			Kind:       req.Kind,
			Message:    "platform is in incident mode, all actions are paused",
		})
	}

	if switchKey, ok := killSwitchForKind[req.Kind]; ok && !snapshot.Enabled(switchKey) {
		return nil, g.deny(req, &PolicyDenied{
			ReasonCode: ReasonKillSwitch,
			Kind:       req.Kind,
			Message:    fmt.Sprintf("%s is disabled platform-wide", req.Kind),
		})
	}

	if req.TenantID == "" {
		return nil, nil
	}

	tn, err := g.tenants.Get(ctx, req.TenantID)
	if err == tenant.ErrNotFound {
		return nil, g.deny(req, &PolicyDenied{
			ReasonCode: ReasonTenantNotFound,
			Kind:       req.Kind,
			Message:    fmt.Sprintf("tenant %s does not exist", req.TenantID),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}

	if !tn.CapabilityFor(req.Kind) {
		return nil, g.deny(req, &PolicyDenied{
			ReasonCode: ReasonTenantDisabled,
			Kind:       req.Kind,
			Message:    fmt.Sprintf("%s is switched off for this tenant", req.Kind),
		})
	}

	if !PersonaSupports(tn.Persona, req.Kind) {
		return nil, g.deny(req, &PolicyDenied{
			ReasonCode: ReasonPersonaUnsupported,
			Kind:       req.Kind,
			Message:    fmt.Sprintf("persona %s does not support %s", tn.Persona, req.Kind),
		})
	}

	return tn, nil
}

// checkIncidents blocks the action when its own category or the payment
// category has unresolved incidents. Every metered action depends on the
// wallet, so a payment incident pauses everything billable.
func (g *Gate) checkIncidents(ctx context.Context, req Request) error {
	categories := []incident.Category{incidentCategoryForKind[req.Kind]}
	if categories[0] != incident.CategoryPayment {
		categories = append(categories, incident.CategoryPayment)
	}

	for _, category := range categories {
		blockers, err := g.incidents.CheckBlockers(ctx, req.TenantID, category)
		if err != nil {
			return fmt.Errorf("failed to check incidents: %w", err)
		}
		if len(blockers) > 0 {
			denial := &IncidentBlocked{
				Kind:     req.Kind,
				Category: string(category),
				Count:    len(blockers),
			}
			g.auditDenial(req, audit.EventActionBlocked, ReasonIncidentBlocked, denial.Error(), map[string]interface{}{
				"category": string(category),
				"count":    len(blockers),
			})
			promGateDecisions.WithLabelValues(req.Kind, "denied").Inc()
			promGateDenials.WithLabelValues(req.Kind, ReasonIncidentBlocked).Inc()
			return denial
		}
	}
	return nil
}

// checkQuota checks the daily then the monthly counter for the kind
func (g *Gate) checkQuota(ctx context.Context, req Request, planID string) error {
	daily, err := g.quota.CheckDaily(ctx, req.TenantID, planID, req.Kind)
	if err != nil {
		return fmt.Errorf("failed to check daily quota: %w", err)
	}
	if !daily.Allowed {
		return g.quotaDenial(req, daily)
	}

	monthly, err := g.quota.CheckMonthly(ctx, req.TenantID, planID, req.Kind)
	if err != nil {
		return fmt.Errorf("failed to check monthly quota: %w", err)
	}
	if !monthly.Allowed {
		return g.quotaDenial(req, monthly)
	}
	return nil
}

// checkBalance verifies the tenant can cover at least the minimum cost
// of the action and returns the estimate. Free kinds skip the wallet.
func (g *Gate) checkBalance(ctx context.Context, req Request, planID string) (int64, error) {
	estimate := g.rates.Estimate(req.Kind, planID)
	if estimate <= 0 {
		return 0, nil
	}

	ok, available, err := g.balances.HasSufficientBalance(ctx, req.TenantID, estimate)
	if err != nil {
		return 0, fmt.Errorf("failed to check balance: %w", err)
	}
	if !ok {
		denial := &InsufficientBalance{
			Kind:           req.Kind,
			RequiredCents:  estimate,
			AvailableCents: available,
		}

		// Resolved by top-up: leave a payment record so operators see the
		// tenant is stuck. Dedup keeps repeated attempts to one record.
		if _, err := g.incidents.Raise(ctx, incident.FailureRecord{
			TenantID: req.TenantID,
			Category: incident.CategoryPayment,
			Source:   "policy_gate",
			Severity: incident.SeverityHigh,
			Message:  "insufficient balance",
			Metadata: map[string]interface{}{
				"kind":            req.Kind,
				"required_cents":  estimate,
				"available_cents": available,
			},
		}); err != nil {
			g.log.ErrorWithErr(req.TenantID, req.RequestID, "failed to raise payment incident", err, nil)
		}

		g.auditDenial(req, audit.EventActionBlocked, ReasonInsufficientFunds, denial.Error(), map[string]interface{}{
			"required_cents":  estimate,
			"available_cents": available,
		})
		promGateDecisions.WithLabelValues(req.Kind, "denied").Inc()
		promGateDenials.WithLabelValues(req.Kind, ReasonInsufficientFunds).Inc()
		return 0, denial
	}
	return estimate, nil
}

func (g *Gate) quotaDenial(req Request, result quota.Result) error {
	denial := &QuotaExceeded{
		Kind:     req.Kind,
		Resource: req.Kind,
		Limit:    result.Limit,
		Current:  result.Current,
		Period:   result.Period,
	}
	g.auditDenial(req, audit.EventQuotaExceeded, ReasonQuotaExceeded, denial.Error(), map[string]interface{}{
		"limit":   result.Limit,
		"current": result.Current,
		"period":  result.Period,
	})
	promGateDecisions.WithLabelValues(req.Kind, "denied").Inc()
	promGateDenials.WithLabelValues(req.Kind, ReasonQuotaExceeded).Inc()
	return denial
}

// deny records a policy denial and returns it
func (g *Gate) deny(req Request, denial *PolicyDenied) error {
	g.auditDenial(req, audit.EventActionDenied, denial.ReasonCode, denial.Message, nil)
	promGateDecisions.WithLabelValues(req.Kind, "denied").Inc()
	promGateDenials.WithLabelValues(req.Kind, denial.ReasonCode).Inc()
	return denial
}

func (g *Gate) auditDenial(req Request, eventType, reason, message string, details map[string]interface{}) {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["kind"] = req.Kind
	details["reason"] = reason
	details["message"] = message

	g.audit.Log(audit.Event{
		ActorType:  audit.ActorSystem,
		EventType:  eventType,
		EntityType: "action",
		EntityID:   req.RequestID,
		TenantID:   req.TenantID,
		Metadata:   details,
	})
	g.log.Info(req.TenantID, req.RequestID, "action denied", map[string]interface{}{
		"kind":   req.Kind,
		"reason": reason,
	})
}
