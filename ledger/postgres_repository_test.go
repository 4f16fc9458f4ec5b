// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

package ledger

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func TestPostgresApplyDebit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE balances").
		WithArgs("t-1", int64(-10)).
		WillReturnRows(sqlmock.NewRows([]string{"amount_cents"}).AddRow(int64(490)))
	mock.ExpectExec("INSERT INTO balance_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx := &Transaction{ID: "tx-1", TenantID: "t-1", Direction: DirectionDebit, AmountCents: 10, Reason: "ai_reply"}
	balanceAfter, err := repo.ApplyDebit(context.Background(), tx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balanceAfter != 490 {
		t.Errorf("balance after = %d, want 490", balanceAfter)
	}
	if tx.BalanceAfterCents != 490 {
		t.Errorf("tx.BalanceAfterCents = %d, want 490", tx.BalanceAfterCents)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresApplyCreditUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO balances").
		WithArgs("t-new", int64(2500)).
		WillReturnRows(sqlmock.NewRows([]string{"amount_cents"}).AddRow(int64(2500)))
	mock.ExpectExec("INSERT INTO balance_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx := &Transaction{ID: "tx-2", TenantID: "t-new", Direction: DirectionCredit, AmountCents: 2500, Reason: "topup"}
	balanceAfter, err := repo.ApplyCredit(context.Background(), tx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balanceAfter != 2500 {
		t.Errorf("balance after = %d, want 2500", balanceAfter)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresSerializationFailureMapsToConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE balances").
		WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()

	tx := &Transaction{ID: "tx-3", TenantID: "t-1", Direction: DirectionDebit, AmountCents: 10}
	_, err = repo.ApplyDebit(context.Background(), tx)
	if err != ErrLedgerConflict {
		t.Errorf("expected ErrLedgerConflict, got %v", err)
	}
}

func TestPostgresGetBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectQuery("SELECT amount_cents FROM balances").
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows([]string{"amount_cents"}).AddRow(int64(730)))

	balance, err := repo.GetBalance(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 730 {
		t.Errorf("balance = %d, want 730", balance)
	}

	mock.ExpectQuery("SELECT amount_cents FROM balances").
		WithArgs("t-missing").
		WillReturnRows(sqlmock.NewRows([]string{"amount_cents"}))

	_, err = repo.GetBalance(context.Background(), "t-missing")
	if err != ErrTenantNotFound {
		t.Errorf("expected ErrTenantNotFound, got %v", err)
	}
}
