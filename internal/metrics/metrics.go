// Package metrics exposes Prometheus counters and histograms for
// every consensus phase, registered once and shared across every
// package that records an outcome.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PrepareTotal counts Prepare attempts by outcome (issued,
	// conflicting, failed).
	PrepareTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paxos",
		Name:      "prepare_total",
		Help:      "Prepare requests sent by a proposer, partitioned by outcome.",
	}, []string{"outcome"})

	// ConflictsTotal counts ballot conflicts observed during Prepare,
	// across all keys.
	ConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "paxos",
		Name:      "prepare_conflicts_total",
		Help:      "Ballot conflicts observed by proposers during Prepare.",
	})

	// RepairsTotal counts the number of times a proposer had to
	// complete a pending earlier round before resuming its own.
	RepairsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "paxos",
		Name:      "repairs_total",
		Help:      "Pending earlier rounds completed via repair before resuming the original write.",
	})

	// WritesTotal counts completed Write calls by final outcome
	// (success, quorum_unavailable, learn_shortfall, propose_failed,
	// queue_drained).
	WritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paxos",
		Name:      "writes_total",
		Help:      "Write rounds driven to completion, partitioned by outcome.",
	}, []string{"outcome"})

	// WriteDuration measures the end-to-end latency of a Write call.
	WriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "paxos",
		Name:      "write_duration_seconds",
		Help:      "Time spent driving a single write to completion.",
		Buckets:   prometheus.DefBuckets,
	})

	// LearnSuccesses counts Learn responses by outcome, across peers.
	LearnSuccesses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paxos",
		Name:      "learn_total",
		Help:      "Learn requests sent by a proposer, partitioned by outcome.",
	}, []string{"outcome"})

	// SeekRoundsTotal counts anti-entropy seek rounds run, by kind
	// (missing, dangling).
	SeekRoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paxos",
		Name:      "seek_rounds_total",
		Help:      "Anti-entropy seek rounds run, partitioned by kind.",
	}, []string{"kind"})
)
