// Package metrics holds the prometheus collectors for the tip pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TipsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tipjar",
		Name:      "tips_submitted_total",
		Help:      "Tip claims accepted into the ledger.",
	})
	TipsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tipjar",
		Name:      "tips_rejected_total",
		Help:      "Tip claims rejected at submission, by error code.",
	}, []string{"code"})
	TipTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tipjar",
		Name:      "tip_transitions_total",
		Help:      "Tip state transitions out of locked, by resulting status.",
	}, []string{"status"})
	SettlementsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tipjar",
		Name:      "settlements_applied_total",
		Help:      "Confirmed tips whose effects were applied.",
	})
	SettlementErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tipjar",
		Name:      "settlement_errors_total",
		Help:      "Failed attempts to apply settlement effects.",
	})
	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tipjar",
		Name:      "sweep_runs_total",
		Help:      "Completed sweeps of stale pending tips.",
	})
	ChainCalls = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tipjar",
		Name:      "chain_call_seconds",
		Help:      "Latency of chain JSON-RPC calls, by method and outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "outcome"})
)
