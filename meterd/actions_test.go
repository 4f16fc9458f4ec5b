// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

package meterd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gatewise/platform/audit"
	"gatewise/platform/cost"
	"gatewise/platform/gate"
	"gatewise/platform/incident"
	"gatewise/platform/ledger"
	"gatewise/platform/quota"
	"gatewise/platform/tenant"
)

var testSecret = []byte("test-secret")

func tenantToken(t *testing.T, tenantID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"tenant_id": tenantID,
		"role":      "tenant",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func newTestActionAPI(t *testing.T) (*ActionAPI, *ledger.MemoryRepository) {
	t.Helper()

	flags := gate.NewMemoryFlagStore()
	tenants := tenant.NewMemoryStore()
	incidents := incident.NewLog(incident.LogConfig{})
	tracker := quota.NewTracker(quota.TrackerConfig{})
	rates := cost.NewRateTable()
	repo := ledger.NewMemoryRepository()
	sink := audit.NewMemorySink()
	money := ledger.NewService(repo, incidents, sink)

	tenants.Put(&tenant.Tenant{
		ID: "t-1", Persona: "salon", PlanID: "starter",
		AIEnabled: true, MessagingEnabled: true, BookingsEnabled: true,
		WalletEnabled: true, IntegrationsEnabled: true,
	})
	repo.SetBalance("t-1", 1000)

	g := gate.New(gate.GateConfig{
		Flags:     flags,
		Tenants:   tenants,
		Incidents: incidents,
		Quota:     tracker,
		Rates:     rates,
		Balances:  money,
		Audit:     sink,
	})
	pipeline := gate.NewPipeline(gate.PipelineConfig{
		Gate:  g,
		Rates: rates,
		Usage: tracker,
		Money: money,
		Audit: sink,
	})

	return NewActionAPI(pipeline, testSecret), repo
}

func postAction(t *testing.T, api *ActionAPI, kind, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest("POST", "/v1/actions/"+kind, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestExecuteRequiresTenantToken(t *testing.T) {
	api, _ := newTestActionAPI(t)

	rec := postAction(t, api, "ai_reply", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestExecuteChargesReportedUsage(t *testing.T) {
	api, _ := newTestActionAPI(t)

	rec := postAction(t, api, "ai_reply", tenantToken(t, "t-1"),
		executeRequest{UsageUnits: 6})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result gate.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.State != gate.StateComplete {
		t.Errorf("expected COMPLETE, got %s", result.State)
	}
	if result.CostCents != 12 {
		t.Errorf("expected cost 12, got %d", result.CostCents)
	}
	if result.BalanceAfterCents != 988 {
		t.Errorf("expected balance 988, got %d", result.BalanceAfterCents)
	}
}

func TestExecuteWithRegisteredHandler(t *testing.T) {
	api, _ := newTestActionAPI(t)

	api.RegisterHandler("message_send", func(ctx context.Context) (gate.WorkResult, error) {
		return gate.WorkResult{UsageUnits: 3}, nil
	})

	rec := postAction(t, api, "message_send", tenantToken(t, "t-1"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result gate.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.UsageUnits != 3 {
		t.Errorf("expected 3 usage units, got %d", result.UsageUnits)
	}
}

func TestExecuteDenialStatusCodes(t *testing.T) {
	api, repo := newTestActionAPI(t)

	// Insufficient balance maps to 402
	repo.SetBalance("t-1", 5)
	rec := postAction(t, api, "ai_reply", tenantToken(t, "t-1"), nil)
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("expected 402, got %d", rec.Code)
	}

	// Unknown tenant maps to 403
	rec = postAction(t, api, "ai_reply", tenantToken(t, "ghost"), nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}
