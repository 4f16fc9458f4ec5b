// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

package meterd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"gatewise/platform/gate"
	"gatewise/platform/shared/logger"
)

// ActionAPI is the tenant-facing surface: product services submit their
// actions here and the pipeline gates, executes and meters them.
type ActionAPI struct {
	pipeline  *gate.Pipeline
	jwtSecret []byte
	handlers  map[string]gate.WorkFunc
	log       *logger.Logger
}

// NewActionAPI creates the action API with echo work handlers for every
// kind. Services embedding the pipeline in-process register their real
// work functions with RegisterHandler.
func NewActionAPI(pipeline *gate.Pipeline, jwtSecret []byte) *ActionAPI {
	a := &ActionAPI{
		pipeline:  pipeline,
		jwtSecret: jwtSecret,
		handlers:  make(map[string]gate.WorkFunc),
		log:       logger.New("ActionAPI"),
	}
	return a
}

// RegisterHandler binds the work function executed for an action kind
func (a *ActionAPI) RegisterHandler(kind string, work gate.WorkFunc) {
	a.handlers[kind] = work
}

// Handler builds the HTTP routes for action submission
func (a *ActionAPI) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/actions/{kind}", a.handleExecute).Methods("POST")
	return r
}

type executeRequest struct {
	UsageUnits int64                  `json:"usage_units"`
	Input      map[string]interface{} `json:"input,omitempty"`
}

func (a *ActionAPI) handleExecute(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]

	tenantID, err := a.tenantFromToken(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	var body executeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	req := gate.Request{
		RequestID: uuid.New().String(),
		TenantID:  tenantID,
		Kind:      kind,
	}

	work := a.handlers[kind]
	if work == nil {
		// Callers without a registered handler report their usage; the
		// pipeline still owns gating, pricing and deduction
		units := body.UsageUnits
		work = func(ctx context.Context) (gate.WorkResult, error) {
			return gate.WorkResult{UsageUnits: units}, nil
		}
	}

	result, err := a.pipeline.Execute(r.Context(), req, work)
	if err != nil {
		writeJSON(w, statusForDenial(err), map[string]interface{}{
			"error":  err.Error(),
			"result": result,
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// tenantFromToken validates the tenant bearer token and extracts the
// tenant ID claim
func (a *ActionAPI) tenantFromToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", fmt.Errorf("missing bearer token")
	}

	token, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	tenantID, _ := claims["tenant_id"].(string)
	if tenantID == "" {
		return "", fmt.Errorf("token missing tenant_id")
	}
	return tenantID, nil
}

// statusForDenial maps pipeline errors to HTTP status codes
func statusForDenial(err error) int {
	var policy *gate.PolicyDenied
	var blocked *gate.IncidentBlocked
	var quota *gate.QuotaExceeded
	var funds *gate.InsufficientBalance

	switch {
	case errors.As(err, &policy):
		return http.StatusForbidden
	case errors.As(err, &blocked):
		return http.StatusServiceUnavailable
	case errors.As(err, &quota):
		return http.StatusTooManyRequests
	case errors.As(err, &funds):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
