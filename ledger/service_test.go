// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"sync"
	"testing"

	"gatewise/platform/audit"
	"gatewise/platform/incident"
)

func newTestService(repo Repository) (*Service, *incident.Log, *audit.MemorySink) {
	incidents := incident.NewLog(incident.LogConfig{})
	sink := audit.NewMemorySink()
	return NewService(repo, incidents, sink), incidents, sink
}

// Starting balance 1000, 50 concurrent deductions of 10 each: the final
// balance must be exactly 500 with exactly 50 transaction rows. No lost
// updates, no duplicates.
func TestConcurrentDeductionsNoLostUpdates(t *testing.T) {
	repo := NewMemoryRepository()
	repo.SetBalance("t-1", 1000)
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Deduct(ctx, "t-1", 10, "ai_reply", nil); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("deduction failed: %v", err)
	}

	balance, err := svc.GetBalance(ctx, "t-1")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 500 {
		t.Errorf("final balance = %d, want exactly 500", balance)
	}

	txs, err := svc.ListTransactions(ctx, "t-1", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 50 {
		t.Errorf("transaction count = %d, want exactly 50", len(txs))
	}
}

func TestDeductAllowsNegativeBalanceAndRaisesIncident(t *testing.T) {
	repo := NewMemoryRepository()
	repo.SetBalance("t-1", 5)
	svc, incidents, sink := newTestService(repo)
	ctx := context.Background()

	// Actual cost exceeded the pre-flight estimate: the work already
	// happened, so the deduction must land even though it goes negative.
	tx, err := svc.Deduct(ctx, "t-1", 12, "ai_reply", map[string]interface{}{"usage_units": 6})
	if err != nil {
		t.Fatalf("deduct failed: %v", err)
	}
	if tx.BalanceAfterCents != -7 {
		t.Errorf("balance after = %d, want -7", tx.BalanceAfterCents)
	}

	blockers, err := incidents.CheckBlockers(ctx, "t-1", incident.CategoryPayment)
	if err != nil {
		t.Fatal(err)
	}
	if len(blockers) != 1 {
		t.Fatalf("expected 1 payment incident, got %d", len(blockers))
	}

	// A second negative deduction dedups into the same active incident
	if _, err := svc.Deduct(ctx, "t-1", 3, "ai_reply", nil); err != nil {
		t.Fatal(err)
	}
	blockers, _ = incidents.CheckBlockers(ctx, "t-1", incident.CategoryPayment)
	if len(blockers) != 1 {
		t.Errorf("expected incident dedup, got %d active records", len(blockers))
	}

	raised := sink.EventsOfType(audit.EventIncidentRaised)
	if len(raised) != 1 {
		t.Errorf("expected 1 incident_raised audit event, got %d", len(raised))
	}
}

func TestDeductAboveZeroRaisesNoIncident(t *testing.T) {
	repo := NewMemoryRepository()
	repo.SetBalance("t-1", 100)
	svc, incidents, _ := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.Deduct(ctx, "t-1", 40, "booking", nil); err != nil {
		t.Fatal(err)
	}

	blockers, _ := incidents.CheckBlockers(ctx, "t-1", incident.CategoryPayment)
	if len(blockers) != 0 {
		t.Errorf("expected no incidents, got %d", len(blockers))
	}
}

func TestHasSufficientBalance(t *testing.T) {
	repo := NewMemoryRepository()
	repo.SetBalance("t-1", 5)
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	ok, available, err := svc.HasSufficientBalance(ctx, "t-1", 8)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected insufficient balance for 8 with 5 available")
	}
	if available != 5 {
		t.Errorf("available = %d, want 5", available)
	}

	ok, _, err = svc.HasSufficientBalance(ctx, "t-1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected exactly-sufficient balance to pass")
	}

	// Unknown tenant has zero credit, not an error
	ok, available, err = svc.HasSufficientBalance(ctx, "t-unknown", 1)
	if err != nil {
		t.Fatal(err)
	}
	if ok || available != 0 {
		t.Errorf("unknown tenant: ok=%v available=%d, want false/0", ok, available)
	}
}

func TestCreditCreatesBalanceAndAudits(t *testing.T) {
	repo := NewMemoryRepository()
	svc, _, sink := newTestService(repo)
	ctx := context.Background()

	tx, err := svc.Credit(ctx, "t-new", 2500, "topup", "op-1", nil)
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if tx.BalanceAfterCents != 2500 {
		t.Errorf("balance after = %d, want 2500", tx.BalanceAfterCents)
	}

	balance, _ := svc.GetBalance(ctx, "t-new")
	if balance != 2500 {
		t.Errorf("balance = %d, want 2500", balance)
	}

	credited := sink.EventsOfType(audit.EventBalanceCredited)
	if len(credited) != 1 {
		t.Fatalf("expected 1 balance_credited audit event, got %d", len(credited))
	}
	if credited[0].ActorType != audit.ActorOperator || credited[0].ActorID != "op-1" {
		t.Errorf("credit audit actor = %s/%s, want operator/op-1", credited[0].ActorType, credited[0].ActorID)
	}
}

func TestInvalidAmounts(t *testing.T) {
	repo := NewMemoryRepository()
	repo.SetBalance("t-1", 100)
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	for _, amount := range []int64{0, -5} {
		if _, err := svc.Deduct(ctx, "t-1", amount, "x", nil); err != ErrInvalidAmount {
			t.Errorf("Deduct(%d): expected ErrInvalidAmount, got %v", amount, err)
		}
		if _, err := svc.Credit(ctx, "t-1", amount, "x", "op", nil); err != ErrInvalidAmount {
			t.Errorf("Credit(%d): expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestDeductUnknownTenant(t *testing.T) {
	repo := NewMemoryRepository()
	svc, _, _ := newTestService(repo)

	_, err := svc.Deduct(context.Background(), "t-missing", 10, "x", nil)
	if err != ErrTenantNotFound {
		t.Errorf("expected ErrTenantNotFound, got %v", err)
	}
}

// conflictingRepo fails with ErrLedgerConflict a fixed number of times
// before delegating, to exercise the bounded retry.
type conflictingRepo struct {
	*MemoryRepository
	mu        sync.Mutex
	conflicts int
}

func (r *conflictingRepo) ApplyDebit(ctx context.Context, tx *Transaction) (int64, error) {
	r.mu.Lock()
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return 0, ErrLedgerConflict
	}
	r.mu.Unlock()
	return r.MemoryRepository.ApplyDebit(ctx, tx)
}

func TestDeductRetriesConflicts(t *testing.T) {
	repo := &conflictingRepo{MemoryRepository: NewMemoryRepository(), conflicts: 2}
	repo.SetBalance("t-1", 100)
	svc, _, _ := newTestService(repo)

	tx, err := svc.Deduct(context.Background(), "t-1", 10, "booking", nil)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if tx.BalanceAfterCents != 90 {
		t.Errorf("balance after = %d, want 90", tx.BalanceAfterCents)
	}
}

func TestDeductSurfacesConflictWhenRetriesExhausted(t *testing.T) {
	repo := &conflictingRepo{MemoryRepository: NewMemoryRepository(), conflicts: 10}
	repo.SetBalance("t-1", 100)
	svc, _, _ := newTestService(repo)

	_, err := svc.Deduct(context.Background(), "t-1", 10, "booking", nil)
	if err != ErrLedgerConflict {
		t.Errorf("expected ErrLedgerConflict, got %v", err)
	}

	// The balance must be untouched by the failed attempts
	balance, _ := svc.GetBalance(context.Background(), "t-1")
	if balance != 100 {
		t.Errorf("balance = %d, want 100", balance)
	}
}
