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

package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"gatewise/platform/shared/logger"
)

// Key retention beyond the period itself so late reads over a boundary
// still resolve, then Redis reclaims them.
const (
	dayKeyTTL   = 48 * time.Hour
	monthKeyTTL = 32 * 24 * time.Hour
)

// Result reports the outcome of a quota check
type Result struct {
	Allowed bool   `json:"allowed"`
	Limit   int64  `json:"limit"`
	Current int64  `json:"current"`
	Period  string `json:"period"`
}

// Tracker counts resource usage per tenant per UTC period against plan
// limits. Counters live in Redis when a client is configured, otherwise
// in process memory (single-instance deployments and tests).
type Tracker struct {
	rdb    *redis.Client
	limits *PlanLimits
	now    func() time.Time
	log    *logger.Logger

	mu       sync.Mutex
	counters map[string]int64
}

// TrackerConfig configures a Tracker
type TrackerConfig struct {
	Redis  *redis.Client
	Limits *PlanLimits
	// Now overrides the clock, for tests
	Now func() time.Time
}

// NewTracker creates a usage tracker
func NewTracker(cfg TrackerConfig) *Tracker {
	limits := cfg.Limits
	if limits == nil {
		limits = NewPlanLimits()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		rdb:      cfg.Redis,
		limits:   limits,
		now:      now,
		log:      logger.New("QuotaTracker"),
		counters: make(map[string]int64),
	}
}

// CheckDaily checks current usage against the plan's daily limit. A
// resource with no daily limit is always allowed.
func (t *Tracker) CheckDaily(ctx context.Context, tenantID, planID, resource string) (Result, error) {
	period := t.dayPeriod()
	limit, ok := t.limits.DailyLimit(planID, resource)
	if !ok {
		return Result{Allowed: true, Period: period}, nil
	}
	return t.check(ctx, dayKey(tenantID, resource, period), limit, period)
}

// CheckMonthly checks current usage against the plan's monthly limit. A
// resource with no monthly limit is always allowed.
func (t *Tracker) CheckMonthly(ctx context.Context, tenantID, planID, resource string) (Result, error) {
	period := t.monthPeriod()
	limit, ok := t.limits.MonthlyLimit(planID, resource)
	if !ok {
		return Result{Allowed: true, Period: period}, nil
	}
	return t.check(ctx, monthKey(tenantID, resource, period), limit, period)
}

// Increment records one use of a resource against both the current day
// and month counters. Callers invoke this only after the metered work
// succeeded, so failed attempts never consume quota.
func (t *Tracker) Increment(ctx context.Context, tenantID, resource string) error {
	dk := dayKey(tenantID, resource, t.dayPeriod())
	mk := monthKey(tenantID, resource, t.monthPeriod())

	if t.rdb == nil {
		t.mu.Lock()
		t.counters[dk]++
		t.counters[mk]++
		t.mu.Unlock()
		return nil
	}

	pipe := t.rdb.TxPipeline()
	pipe.Incr(ctx, dk)
	pipe.Expire(ctx, dk, dayKeyTTL)
	pipe.Incr(ctx, mk)
	pipe.Expire(ctx, mk, monthKeyTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to increment usage for %s/%s: %w", tenantID, resource, err)
	}
	return nil
}

// Usage returns the current counters for a tenant/resource
func (t *Tracker) Usage(ctx context.Context, tenantID, resource string) (day int64, month int64, err error) {
	dk := dayKey(tenantID, resource, t.dayPeriod())
	mk := monthKey(tenantID, resource, t.monthPeriod())

	day, err = t.current(ctx, dk)
	if err != nil {
		return 0, 0, err
	}
	month, err = t.current(ctx, mk)
	if err != nil {
		return 0, 0, err
	}
	return day, month, nil
}

func (t *Tracker) check(ctx context.Context, key string, limit int64, period string) (Result, error) {
	current, err := t.current(ctx, key)
	if err != nil {
		// Counter store unavailable: allow the action rather than take
		// every tenant down with it
		t.log.Warn("", "", fmt.Sprintf("usage read failed for %s, failing open", key), map[string]interface{}{"error": err.Error()})
		return Result{Allowed: true, Limit: limit, Period: period}, nil
	}

	return Result{
		Allowed: current < limit,
		Limit:   limit,
		Current: current,
		Period:  period,
	}, nil
}

func (t *Tracker) current(ctx context.Context, key string) (int64, error) {
	if t.rdb == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.counters[key], nil
	}

	val, err := t.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func (t *Tracker) dayPeriod() string {
	return t.now().UTC().Format("2006-01-02")
}

func (t *Tracker) monthPeriod() string {
	return t.now().UTC().Format("2006-01")
}

func dayKey(tenantID, resource, period string) string {
	return fmt.Sprintf("usage:%s:%s:day:%s", tenantID, resource, period)
}

func monthKey(tenantID, resource, period string) string {
	return fmt.Sprintf("usage:%s:%s:month:%s", tenantID, resource, period)
}
