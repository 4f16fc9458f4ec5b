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

package gate

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics
var (
	promGateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewise_gate_decisions_total",
			Help: "Total gate decisions by action kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	promGateDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewise_gate_denials_total",
			Help: "Total denied actions by kind and denial reason",
		},
		[]string{"kind", "reason"},
	)
	promActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatewise_action_duration_milliseconds",
			Help:    "End-to-end metered action duration in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"kind"},
	)
	promCostDeducted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewise_cost_deducted_cents_total",
			Help: "Total cents deducted from tenant balances by action kind",
		},
		[]string{"kind"},
	)
	promWorkFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewise_work_failures_total",
			Help: "Total metered actions whose work step failed",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(promGateDecisions)
	prometheus.MustRegister(promGateDenials)
	prometheus.MustRegister(promActionDuration)
	prometheus.MustRegister(promCostDeducted)
	prometheus.MustRegister(promWorkFailures)
}
