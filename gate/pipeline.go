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
	"fmt"
	"time"

	"gatewise/platform/audit"
	"gatewise/platform/ledger"
	"gatewise/platform/shared/logger"
)

// State marks how far a request progressed through the pipeline
type State string

const (
	StateReceived          State = "RECEIVED"
	StateGateChecked       State = "GATE_CHECKED"
	StateIncidentChecked   State = "INCIDENT_CHECKED"
	StateQuotaChecked      State = "QUOTA_CHECKED"
	StateBalancePrechecked State = "BALANCE_PRECHECKED"
	StateWorkExecuted      State = "WORK_EXECUTED"
	StateCostComputed      State = "COST_COMPUTED"
	StateBalanceDeducted   State = "BALANCE_DEDUCTED"
	StateAudited           State = "AUDITED"
	StateComplete          State = "COMPLETE"
)

// WorkResult is what the executed work reports back for metering
type WorkResult struct {
	UsageUnits int64                  `json:"usage_units"`
	Output     map[string]interface{} `json:"output,omitempty"`
}

// WorkFunc performs the actual action once every check has passed
type WorkFunc func(ctx context.Context) (WorkResult, error)

// RateSource prices actions before and after they run
type RateSource interface {
	Estimator
	Actual(kind string, usageUnits int64, planID string) int64
}

// UsageTracker extends quota checks with the post-success increment
type UsageTracker interface {
	QuotaChecker
	Increment(ctx context.Context, tenantID, resource string) error
}

// Deductor extends the balance precheck with the post-work deduction
type Deductor interface {
	BalanceChecker
	Deduct(ctx context.Context, tenantID string, amountCents int64, reason string, metadata map[string]interface{}) (*ledger.Transaction, error)
}

// Result reports the outcome of one metered action
type Result struct {
	RequestID         string    `json:"request_id"`
	TenantID          string    `json:"tenant_id"`
	Kind              string    `json:"kind"`
	State             State     `json:"state"`
	EstimateCents     int64     `json:"estimate_cents"`
	CostCents         int64     `json:"cost_cents"`
	BalanceAfterCents int64     `json:"balance_after_cents"`
	UsageUnits        int64     `json:"usage_units"`
	StartedAt         time.Time `json:"started_at"`
	CompletedAt       time.Time `json:"completed_at,omitempty"`
}

// Pipeline runs the full check-execute-meter sequence for one action.
// The order is fixed: gate, incidents, quota, balance precheck, work,
// cost, deduction, usage increment. Nothing is charged or counted until
// the work step succeeds.
type Pipeline struct {
	gate  *Gate
	rates RateSource
	usage UsageTracker
	money Deductor
	audit audit.Sink
	log   *logger.Logger
}

// PipelineConfig wires a Pipeline. Rates, Usage and Money must be the
// same instances the Gate checks against.
type PipelineConfig struct {
	Gate  *Gate
	Rates RateSource
	Usage UsageTracker
	Money Deductor
	Audit audit.Sink
}

// NewPipeline creates a Pipeline
func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		gate:  cfg.Gate,
		rates: cfg.Rates,
		usage: cfg.Usage,
		money: cfg.Money,
		audit: cfg.Audit,
		log:   logger.New("ActionPipeline"),
	}
}

// Execute gates, runs, and meters one action. The returned Result always
// reports how far the request got, including on denial and failure.
func (p *Pipeline) Execute(ctx context.Context, req Request, work WorkFunc) (*Result, error) {
	result := &Result{
		RequestID: req.RequestID,
		TenantID:  req.TenantID,
		Kind:      req.Kind,
		State:     StateReceived,
		StartedAt: time.Now().UTC(),
	}

	tn, err := p.gate.checkPolicy(ctx, req)
	if err != nil {
		return result, err
	}
	result.State = StateGateChecked

	// A tenantless request (pre-signup) is gated by the flags alone:
	// there is no wallet, quota or incident scope to check yet
	planID := ""
	if tn != nil {
		planID = tn.PlanID

		if err := p.gate.checkIncidents(ctx, req); err != nil {
			return result, err
		}
	}
	result.State = StateIncidentChecked

	if tn != nil {
		if err := p.gate.checkQuota(ctx, req, planID); err != nil {
			return result, err
		}
	}
	result.State = StateQuotaChecked

	if tn != nil {
		estimate, err := p.gate.checkBalance(ctx, req, planID)
		if err != nil {
			return result, err
		}
		result.EstimateCents = estimate
	}
	result.State = StateBalancePrechecked

	workResult, err := work(ctx)
	if err != nil {
		p.auditWorkFailure(req, err)
		promWorkFailures.WithLabelValues(req.Kind).Inc()
		return result, fmt.Errorf("work failed for %s: %w", req.Kind, err)
	}
	result.UsageUnits = workResult.UsageUnits
	result.State = StateWorkExecuted

	cost := p.rates.Actual(req.Kind, workResult.UsageUnits, planID)
	result.CostCents = cost
	result.State = StateCostComputed

	if cost > 0 && req.TenantID != "" {
		tx, err := p.money.Deduct(ctx, req.TenantID, cost, req.Kind, map[string]interface{}{
			"request_id":  req.RequestID,
			"usage_units": workResult.UsageUnits,
		})
		if err != nil {
			p.log.ErrorWithErr(req.TenantID, req.RequestID, "deduction failed after work executed", err, map[string]interface{}{
				"kind":       req.Kind,
				"cost_cents": cost,
			})
			return result, fmt.Errorf("failed to deduct cost for %s: %w", req.Kind, err)
		}
		result.BalanceAfterCents = tx.BalanceAfterCents
		promCostDeducted.WithLabelValues(req.Kind).Add(float64(cost))
	}
	result.State = StateBalanceDeducted

	// Usage counts only completed work. A failed increment is logged and
	// swallowed: the action already ran and was paid for.
	if req.TenantID != "" {
		if err := p.usage.Increment(ctx, req.TenantID, req.Kind); err != nil {
			p.log.Warn(req.TenantID, req.RequestID, "usage increment failed", map[string]interface{}{
				"kind":  req.Kind,
				"error": err.Error(),
			})
		}
	}
	result.State = StateAudited

	result.CompletedAt = time.Now().UTC()
	result.State = StateComplete

	promGateDecisions.WithLabelValues(req.Kind, "completed").Inc()
	promActionDuration.WithLabelValues(req.Kind).
		Observe(float64(result.CompletedAt.Sub(result.StartedAt).Milliseconds()))

	return result, nil
}

func (p *Pipeline) auditWorkFailure(req Request, workErr error) {
	p.audit.Log(audit.Event{
		ActorType:  audit.ActorSystem,
		EventType:  audit.EventWorkFailed,
		EntityType: "action",
		EntityID:   req.RequestID,
		TenantID:   req.TenantID,
		Metadata: map[string]interface{}{
			"kind":  req.Kind,
			"error": workErr.Error(),
		},
	})
}
