// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

package ops

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"gatewise/platform/audit"
	"gatewise/platform/gate"
	"gatewise/platform/incident"
	"gatewise/platform/ledger"
)

func (s *Server) handleListFlags(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.flags.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load flags")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"flags":    snapshot.Flags,
		"taken_at": snapshot.TakenAt,
	})
}

func (s *Server) handleSetFlag(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	op, _ := OperatorFromContext(r.Context())

	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flag, err := s.flags.SetFlag(r.Context(), key, body.Enabled, op.ID)
	if err != nil {
		s.log.ErrorWithErr("", "", "flag update failed", err, map[string]interface{}{"key": key})
		writeError(w, http.StatusInternalServerError, "failed to update flag")
		return
	}

	s.audit.Log(audit.Event{
		ActorType:  audit.ActorOperator,
		ActorID:    op.ID,
		EventType:  audit.EventFlagUpdated,
		EntityType: "system_flag",
		EntityID:   key,
		Metadata: map[string]interface{}{
			"enabled": body.Enabled,
			"version": flag.Version,
		},
	})
	s.log.Info("", "", "system flag updated", map[string]interface{}{
		"key": key, "enabled": body.Enabled, "operator": op.ID,
	})

	writeJSON(w, http.StatusOK, flag)
}

// handleCheckAction runs the gate as a dry run, without executing or
// charging anything
func (s *Server) handleCheckAction(w http.ResponseWriter, r *http.Request) {
	var req gate.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.gate.CheckAction(r.Context(), req); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"allowed": false,
			"reason":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"allowed": true})
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]
	op, _ := OperatorFromContext(r.Context())

	var body struct {
		AmountCents int64  `json:"amount_cents"`
		Reason      string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Reason == "" {
		body.Reason = "operator_credit"
	}

	tx, err := s.money.Credit(r.Context(), tenantID, body.AmountCents, body.Reason, op.ID, nil)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.ErrorWithErr(tenantID, "", "credit failed", err, nil)
		writeError(w, http.StatusInternalServerError, "failed to credit balance")
		return
	}

	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]

	balance, err := s.money.GetBalance(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id":    tenantID,
		"amount_cents": balance,
	})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]
	limit := parseLimit(r, 50)

	txs, err := s.money.ListTransactions(r.Context(), tenantID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load transactions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id":    tenantID,
		"transactions": txs,
	})
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]
	limit := parseLimit(r, 50)

	records, err := s.incidents.ListForTenant(r.Context(), tenantID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load incidents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id": tenantID,
		"incidents": records,
	})
}

func (s *Server) handleResolveIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	op, _ := OperatorFromContext(r.Context())

	err := s.incidents.Resolve(r.Context(), id, op.ID)
	if errors.Is(err, incident.ErrNotFound) {
		writeError(w, http.StatusNotFound, "incident not found or already resolved")
		return
	}
	if err != nil {
		s.log.ErrorWithErr("", "", "incident resolve failed", err, map[string]interface{}{"id": id})
		writeError(w, http.StatusInternalServerError, "failed to resolve incident")
		return
	}

	s.audit.Log(audit.Event{
		ActorType:  audit.ActorOperator,
		ActorID:    op.ID,
		EventType:  audit.EventIncidentResolved,
		EntityType: "incident",
		EntityID:   id,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tenantID, resource := vars["id"], vars["resource"]

	day, month, err := s.usage.Usage(r.Context(), tenantID, resource)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id": tenantID,
		"resource":  resource,
		"day":       day,
		"month":     month,
	})
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		return fallback
	}
	return limit
}
