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

// Package quota tracks per-tenant per-period usage counters and checks
// them against plan limits. Counters use UTC calendar day and month
// boundaries; a resource without a configured limit is unlimited, not
// blocked, so partially provisioned plans fail open.
package quota

import (
	"encoding/json"
	"os"
	"sync"
)

// Limit caps how often a resource may be used per period. Zero means no
// limit configured for that period.
type Limit struct {
	Daily   int64 `json:"daily"`
	Monthly int64 `json:"monthly"`
}

// PlanLimits maps plan -> resource -> limit
type PlanLimits struct {
	Plans map[string]map[string]Limit `json:"plans"`
	mu    sync.RWMutex
}

// DefaultPlanLimits is the built-in plan limit table
var DefaultPlanLimits = &PlanLimits{
	Plans: map[string]map[string]Limit{
		"starter": {
			"ai_reply":     {Daily: 50, Monthly: 500},
			"booking":      {Daily: 0, Monthly: 10},
			"message_send": {Daily: 200, Monthly: 2000},
			"payment_link": {Daily: 0, Monthly: 25},
		},
		"growth": {
			"ai_reply":     {Daily: 500, Monthly: 5000},
			"booking":      {Daily: 0, Monthly: 200},
			"message_send": {Daily: 2000, Monthly: 20000},
			"payment_link": {Daily: 0, Monthly: 500},
		},
		// Enterprise plans are unlimited by omission
	},
}

// NewPlanLimits creates a limit table populated with the defaults
func NewPlanLimits() *PlanLimits {
	return &PlanLimits{Plans: copyPlans(DefaultPlanLimits.Plans)}
}

// LoadPlanLimitsFromEnv merges custom limits from GATEWISE_PLAN_LIMITS
// over the defaults
func LoadPlanLimitsFromEnv() *PlanLimits {
	limits := NewPlanLimits()

	limitsJSON := os.Getenv("GATEWISE_PLAN_LIMITS")
	if limitsJSON != "" {
		var custom PlanLimits
		if err := json.Unmarshal([]byte(limitsJSON), &custom); err == nil {
			for plan, resources := range custom.Plans {
				if limits.Plans[plan] == nil {
					limits.Plans[plan] = make(map[string]Limit)
				}
				for resource, limit := range resources {
					limits.Plans[plan][resource] = limit
				}
			}
		}
	}

	return limits
}

// DailyLimit returns the daily cap for a plan/resource; ok is false when
// no limit is configured (unlimited)
func (p *PlanLimits) DailyLimit(planID, resource string) (int64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	limit, ok := p.lookup(planID, resource)
	if !ok || limit.Daily <= 0 {
		return 0, false
	}
	return limit.Daily, true
}

// MonthlyLimit returns the monthly cap for a plan/resource; ok is false
// when no limit is configured (unlimited)
func (p *PlanLimits) MonthlyLimit(planID, resource string) (int64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	limit, ok := p.lookup(planID, resource)
	if !ok || limit.Monthly <= 0 {
		return 0, false
	}
	return limit.Monthly, true
}

// SetLimit sets the limit for a plan/resource
func (p *PlanLimits) SetLimit(planID, resource string, limit Limit) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Plans == nil {
		p.Plans = make(map[string]map[string]Limit)
	}
	if p.Plans[planID] == nil {
		p.Plans[planID] = make(map[string]Limit)
	}
	p.Plans[planID][resource] = limit
}

func (p *PlanLimits) lookup(planID, resource string) (Limit, bool) {
	resources, ok := p.Plans[planID]
	if !ok {
		return Limit{}, false
	}
	limit, ok := resources[resource]
	return limit, ok
}

func copyPlans(src map[string]map[string]Limit) map[string]map[string]Limit {
	dst := make(map[string]map[string]Limit, len(src))
	for plan, resources := range src {
		dst[plan] = make(map[string]Limit, len(resources))
		for resource, limit := range resources {
			dst[plan][resource] = limit
		}
	}
	return dst
}
