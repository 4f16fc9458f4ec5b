// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gatewise/platform/audit"
	"gatewise/platform/incident"
	"gatewise/platform/shared/logger"
)

// conflictRetries bounds how often a concurrent-update collision is
// retried before ErrLedgerConflict surfaces to the caller.
const conflictRetries = 3

// IncidentRaiser is the slice of the incident log the ledger needs:
// raising a payment-category incident when a balance lands negative.
type IncidentRaiser interface {
	Raise(ctx context.Context, record incident.FailureRecord) (bool, error)
}

// Service wraps the repository with the gating semantics: sufficiency
// pre-checks, deductions that may drive the balance negative, operator
// top-ups, and the payment-incident side effect.
type Service struct {
	repo      Repository
	incidents IncidentRaiser
	audit     audit.Sink
	log       *logger.Logger
}

// NewService creates a ledger service
func NewService(repo Repository, incidents IncidentRaiser, sink audit.Sink) *Service {
	if sink == nil {
		sink = audit.NewMemorySink()
	}
	return &Service{
		repo:      repo,
		incidents: incidents,
		audit:     sink,
		log:       logger.New("ledger"),
	}
}

// GetBalance returns the latest committed balance. Tenants without a
// balance row report zero credit rather than an error.
func (s *Service) GetBalance(ctx context.Context, tenantID string) (int64, error) {
	amount, err := s.repo.GetBalance(ctx, tenantID)
	if errors.Is(err, ErrTenantNotFound) {
		return 0, nil
	}
	return amount, err
}

// HasSufficientBalance reports whether the tenant can cover the amount,
// along with the available balance for the caller's rejection message.
// Always reads the latest committed value since it gates real work.
func (s *Service) HasSufficientBalance(ctx context.Context, tenantID string, amountCents int64) (bool, int64, error) {
	available, err := s.GetBalance(ctx, tenantID)
	if err != nil {
		return false, 0, err
	}
	return available >= amountCents, available, nil
}

// Deduct atomically records a debit and adjusts the balance. The balance
// is allowed to go negative: the actual cost is only known after the
// billable work completed, and performed work must be accounted for. A
// negative result raises a payment-category incident that blocks further
// actions until an operator remediates.
func (s *Service) Deduct(ctx context.Context, tenantID string, amountCents int64, reason string, metadata map[string]interface{}) (*Transaction, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	tx := &Transaction{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Direction:   DirectionDebit,
		AmountCents: amountCents,
		Reason:      reason,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}

	balanceAfter, err := s.applyWithRetry(ctx, tx, s.repo.ApplyDebit)
	if err != nil {
		return nil, err
	}

	s.audit.Log(audit.Event{
		ActorType:  audit.ActorSystem,
		EventType:  audit.EventCostDeducted,
		EntityType: "transaction",
		EntityID:   tx.ID,
		TenantID:   tenantID,
		Metadata: map[string]interface{}{
			"amount_cents":        amountCents,
			"reason":              reason,
			"balance_after_cents": balanceAfter,
		},
	})

	if balanceAfter < 0 {
		s.raiseNegativeBalanceIncident(ctx, tenantID, balanceAfter)
	}

	return tx, nil
}

// Credit atomically records a credit (top-up, refund, adjustment) and
// adjusts the balance, creating the balance row for new tenants.
func (s *Service) Credit(ctx context.Context, tenantID string, amountCents int64, reason, actorID string, metadata map[string]interface{}) (*Transaction, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	tx := &Transaction{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Direction:   DirectionCredit,
		AmountCents: amountCents,
		Reason:      reason,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}

	balanceAfter, err := s.applyWithRetry(ctx, tx, s.repo.ApplyCredit)
	if err != nil {
		return nil, err
	}

	s.audit.Log(audit.Event{
		ActorType:  audit.ActorOperator,
		ActorID:    actorID,
		EventType:  audit.EventBalanceCredited,
		EntityType: "transaction",
		EntityID:   tx.ID,
		TenantID:   tenantID,
		Metadata: map[string]interface{}{
			"amount_cents":        amountCents,
			"reason":              reason,
			"balance_after_cents": balanceAfter,
		},
	})

	return tx, nil
}

// ListTransactions returns the newest transactions for a tenant
func (s *Service) ListTransactions(ctx context.Context, tenantID string, limit int) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, tenantID, limit)
}

// IsHealthy checks if the underlying store is reachable
func (s *Service) IsHealthy(ctx context.Context) bool {
	return s.repo.Ping(ctx) == nil
}

// applyWithRetry retries concurrent-update collisions a bounded number
// of times before surfacing ErrLedgerConflict
func (s *Service) applyWithRetry(ctx context.Context, tx *Transaction, apply func(context.Context, *Transaction) (int64, error)) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		balanceAfter, err := apply(ctx, tx)
		if err == nil {
			return balanceAfter, nil
		}
		if !errors.Is(err, ErrLedgerConflict) {
			return 0, err
		}
		lastErr = err
		s.log.Warn(tx.TenantID, "", "ledger conflict, retrying", map[string]interface{}{
			"attempt": attempt + 1,
		})
		time.Sleep(time.Millisecond * time.Duration(10*(attempt+1)))
	}
	return 0, lastErr
}

// raiseNegativeBalanceIncident creates the payment-category incident
// that blocks further metered actions until remediated. The dedup key
// keeps repeated negative deductions from stacking active records.
func (s *Service) raiseNegativeBalanceIncident(ctx context.Context, tenantID string, balanceAfter int64) {
	if s.incidents == nil {
		return
	}

	created, err := s.incidents.Raise(ctx, incident.FailureRecord{
		TenantID: tenantID,
		Category: incident.CategoryPayment,
		Source:   "ledger",
		Severity: incident.SeverityHigh,
		Message:  "prepaid balance is negative",
		Metadata: map[string]interface{}{
			"balance_cents": balanceAfter,
		},
	})
	if err != nil {
		s.log.ErrorWithErr(tenantID, "", "failed to raise negative balance incident", err, nil)
		return
	}
	if created {
		s.audit.Log(audit.Event{
			ActorType:  audit.ActorSystem,
			EventType:  audit.EventIncidentRaised,
			EntityType: "incident",
			TenantID:   tenantID,
			Metadata: map[string]interface{}{
				"category":      string(incident.CategoryPayment),
				"balance_cents": balanceAfter,
			},
		})
		s.log.Warn(tenantID, "", "negative balance incident raised", map[string]interface{}{
			"balance_cents": balanceAfter,
		})
	}
}

// String renders a transaction for logs
func (t *Transaction) String() string {
	return fmt.Sprintf("%s %s %dc (%s)", t.TenantID, t.Direction, t.AmountCents, t.Reason)
}
