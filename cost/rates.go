// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

// Package cost converts reported usage units into monetary cost for
// metered tenant actions. Amounts are integer cents so ledger arithmetic
// stays exact under concurrency.
package cost

import (
	"encoding/json"
	"os"
	"sync"
)

// Rate defines how one action kind is priced: a per-unit price and a
// minimum number of units. The minimum serves two purposes: the pre-flight
// estimate uses it as a conservative floor, and the actual charge is
// floored at it so completed work is never charged zero.
type Rate struct {
	UnitCents    int64 `json:"unit_cents"`
	MinimumUnits int64 `json:"minimum_units"`
}

// RateTable holds per-action-kind rates with optional per-plan overrides
type RateTable struct {
	Kinds map[string]Rate            `json:"kinds"`
	Plans map[string]map[string]Rate `json:"plans,omitempty"`
	mu    sync.RWMutex
}

// DefaultRates contains the default rate card for metered actions.
// Prices are in cents per usage unit.
var DefaultRates = &RateTable{
	Kinds: map[string]Rate{
		"ai_reply":         {UnitCents: 2, MinimumUnits: 4},
		"payment_link":     {UnitCents: 25, MinimumUnits: 1},
		"booking":          {UnitCents: 10, MinimumUnits: 1},
		"message_send":     {UnitCents: 5, MinimumUnits: 1},
		"integration_sync": {UnitCents: 15, MinimumUnits: 1},
		"signup":           {UnitCents: 0, MinimumUnits: 0},
		// Default for unknown action kinds
		"*": {UnitCents: 10, MinimumUnits: 1},
	},
}

// NewRateTable creates a rate table populated with the default rate card
func NewRateTable() *RateTable {
	return &RateTable{
		Kinds: copyRates(DefaultRates.Kinds),
		Plans: copyPlans(DefaultRates.Plans),
	}
}

// LoadRatesFromEnv loads custom rates from the GATEWISE_RATES_CONFIG env
// var and merges them over the defaults
func LoadRatesFromEnv() *RateTable {
	table := NewRateTable()

	ratesJSON := os.Getenv("GATEWISE_RATES_CONFIG")
	if ratesJSON != "" {
		var custom RateTable
		if err := json.Unmarshal([]byte(ratesJSON), &custom); err == nil {
			table.merge(&custom)
		}
	}

	return table
}

// LoadRatesFromFile loads rates from a JSON file, merged over the defaults
func LoadRatesFromFile(path string) (*RateTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	table := NewRateTable()
	var custom RateTable
	if err := json.Unmarshal(data, &custom); err != nil {
		return nil, err
	}
	table.merge(&custom)

	return table, nil
}

func (t *RateTable) merge(custom *RateTable) {
	for kind, rate := range custom.Kinds {
		if t.Kinds == nil {
			t.Kinds = make(map[string]Rate)
		}
		t.Kinds[kind] = rate
	}
	for plan, kinds := range custom.Plans {
		if t.Plans == nil {
			t.Plans = make(map[string]map[string]Rate)
		}
		if t.Plans[plan] == nil {
			t.Plans[plan] = make(map[string]Rate)
		}
		for kind, rate := range kinds {
			t.Plans[plan][kind] = rate
		}
	}
}

// lookup resolves the rate for an action kind: plan override first, then
// the base table, then the wildcard entry.
func (t *RateTable) lookup(kind, planID string) (Rate, bool) {
	if planID != "" {
		if planRates, ok := t.Plans[planID]; ok {
			if rate, ok := planRates[kind]; ok {
				return rate, true
			}
		}
	}

	rate, ok := t.Kinds[kind]
	if !ok {
		rate, ok = t.Kinds["*"]
	}
	return rate, ok
}

// Estimate returns the conservative pre-flight cost for an action kind:
// the minimum usage floor priced at the kind's unit rate. The balance
// check preceding billable work uses this so it never under-estimates.
func (t *RateTable) Estimate(kind, planID string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rate, ok := t.lookup(kind, planID)
	if !ok {
		return 0
	}
	return rate.MinimumUnits * rate.UnitCents
}

// Actual returns the cost of completed work from real reported usage,
// floored at the same minimum used by Estimate
func (t *RateTable) Actual(kind string, usageUnits int64, planID string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rate, ok := t.lookup(kind, planID)
	if !ok {
		return 0
	}
	if usageUnits < rate.MinimumUnits {
		usageUnits = rate.MinimumUnits
	}
	return usageUnits * rate.UnitCents
}

// SetRate sets the rate for an action kind, optionally scoped to a plan
func (t *RateTable) SetRate(kind, planID string, rate Rate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if planID == "" {
		if t.Kinds == nil {
			t.Kinds = make(map[string]Rate)
		}
		t.Kinds[kind] = rate
		return
	}

	if t.Plans == nil {
		t.Plans = make(map[string]map[string]Rate)
	}
	if t.Plans[planID] == nil {
		t.Plans[planID] = make(map[string]Rate)
	}
	t.Plans[planID][kind] = rate
}

// GetRate returns the resolved rate for an action kind and plan
func (t *RateTable) GetRate(kind, planID string) (Rate, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lookup(kind, planID)
}

// ListKinds returns all explicitly configured action kinds
func (t *RateTable) ListKinds() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	kinds := make([]string, 0, len(t.Kinds))
	for kind := range t.Kinds {
		if kind != "*" {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func copyRates(src map[string]Rate) map[string]Rate {
	dst := make(map[string]Rate, len(src))
	for kind, rate := range src {
		dst[kind] = rate
	}
	return dst
}

func copyPlans(src map[string]map[string]Rate) map[string]map[string]Rate {
	if src == nil {
		return nil
	}
	dst := make(map[string]map[string]Rate, len(src))
	for plan, kinds := range src {
		dst[plan] = copyRates(kinds)
	}
	return dst
}
