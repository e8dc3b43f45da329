// Copyright 2025 Certen Protocol
//
// Ambient metrics for the sync controllers, exported via
// prometheus/client_golang's promauto registration idiom.

package syncctl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logchain",
		Subsystem: "syncctl",
		Name:      "entries_applied_total",
		Help:      "Number of log entries successfully verified and replayed.",
	}, []string{"kind"})

	entriesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logchain",
		Subsystem: "syncctl",
		Name:      "entries_rejected_total",
		Help:      "Number of log entries that failed verification or replay.",
	}, []string{"kind", "reason"})

	syncCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logchain",
		Subsystem: "syncctl",
		Name:      "sync_cycles_total",
		Help:      "Number of sync() cycles run.",
	}, []string{"kind"})

	replayStatements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logchain",
		Subsystem: "syncctl",
		Name:      "replay_statements_total",
		Help:      "Number of SQL statements executed by the replay engine.",
	}, []string{"kind"})
)
