// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

// Package ops is the operator control surface: system flags, tenant
// credits, incident resolution and usage inspection over HTTP. It is an
// internal API, authenticated with short-lived operator JWTs.
package ops

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const operatorKey contextKey = "operator"

// Operator identifies the authenticated operator for audit attribution
type Operator struct {
	ID    string
	Email string
}

// OperatorFromContext returns the operator attached by the auth
// middleware
func OperatorFromContext(ctx context.Context) (*Operator, bool) {
	op, ok := ctx.Value(operatorKey).(*Operator)
	return op, ok
}

// validateOperatorToken parses an HS256 operator token and checks the
// role claim
func validateOperatorToken(tokenString string, secret []byte) (*Operator, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	if role, _ := claims["role"].(string); role != "operator" {
		return nil, fmt.Errorf("token is not an operator token")
	}

	id, _ := claims["sub"].(string)
	if id == "" {
		return nil, fmt.Errorf("token missing subject")
	}
	email, _ := claims["email"].(string)

	return &Operator{ID: id, Email: email}, nil
}

// requireOperator wraps a handler with bearer-token authentication
func (s *Server) requireOperator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		op, err := validateOperatorToken(strings.TrimPrefix(header, "Bearer "), s.jwtSecret)
		if err != nil {
			s.log.Warn("", "", "operator auth failed", map[string]interface{}{"error": err.Error()})
			writeError(w, http.StatusUnauthorized, "invalid operator token")
			return
		}

		ctx := context.WithValue(r.Context(), operatorKey, op)
		next(w, r.WithContext(ctx))
	}
}

// NewOperatorToken mints an operator token, used by the CLI and tests
func NewOperatorToken(secret []byte, operatorID, email string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":   operatorID,
		"email": email,
		"role":  "operator",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
