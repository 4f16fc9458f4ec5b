// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"gatewise/platform/audit"
	"gatewise/platform/gate"
	"gatewise/platform/incident"
	"gatewise/platform/ledger"
	"gatewise/platform/shared/logger"
)

// UsageReader exposes the current usage counters to operators
type UsageReader interface {
	Usage(ctx context.Context, tenantID, resource string) (day int64, month int64, err error)
}

// Server is the operator HTTP API
type Server struct {
	flags     gate.FlagStore
	gate      *gate.Gate
	money     *ledger.Service
	incidents *incident.Log
	usage     UsageReader
	audit     audit.Sink
	jwtSecret []byte
	log       *logger.Logger
}

// ServerConfig wires the operator API
type ServerConfig struct {
	Flags     gate.FlagStore
	Gate      *gate.Gate
	Money     *ledger.Service
	Incidents *incident.Log
	Usage     UsageReader
	Audit     audit.Sink
	JWTSecret []byte
}

// NewServer creates the operator API server
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		flags:     cfg.Flags,
		gate:      cfg.Gate,
		money:     cfg.Money,
		incidents: cfg.Incidents,
		usage:     cfg.Usage,
		audit:     cfg.Audit,
		jwtSecret: cfg.JWTSecret,
		log:       logger.New("OpsAPI"),
	}
}

// Router builds the HTTP routes. Health and metrics are unauthenticated;
// everything under /api requires an operator token.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/flags", s.requireOperator(s.handleListFlags)).Methods("GET")
	api.HandleFunc("/flags/{key}", s.requireOperator(s.handleSetFlag)).Methods("PUT")
	api.HandleFunc("/check", s.requireOperator(s.handleCheckAction)).Methods("POST")
	api.HandleFunc("/tenants/{id}/credits", s.requireOperator(s.handleCredit)).Methods("POST")
	api.HandleFunc("/tenants/{id}/balance", s.requireOperator(s.handleBalance)).Methods("GET")
	api.HandleFunc("/tenants/{id}/transactions", s.requireOperator(s.handleTransactions)).Methods("GET")
	api.HandleFunc("/tenants/{id}/incidents", s.requireOperator(s.handleListIncidents)).Methods("GET")
	api.HandleFunc("/tenants/{id}/usage/{resource}", s.requireOperator(s.handleUsage)).Methods("GET")
	api.HandleFunc("/incidents/{id}/resolve", s.requireOperator(s.handleResolveIncident)).Methods("POST")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if !s.money.IsHealthy(r.Context()) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"service":   "gatewise-meterd",
		"timestamp": time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
