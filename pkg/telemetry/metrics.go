package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Mutation API ────────────────────────────────────────────────────────────

	TasksMutated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "temet",
		Subsystem: "api",
		Name:      "tasks_mutated_total",
		Help:      "Total task mutations, labelled by operation.",
	}, []string{"op"})

	MutationsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "temet",
		Subsystem: "api",
		Name:      "mutations_rejected_total",
		Help:      "Mutations rejected before any write, labelled by reason.",
	}, []string{"reason"})

	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "temet",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Mutation requests rejected by the per-actor rate limiter.",
	})

	// ─── Broadcast ───────────────────────────────────────────────────────────────

	BroadcastEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "temet",
		Subsystem: "broadcast",
		Name:      "events_total",
		Help:      "Events published on the tasks channel, labelled by event type.",
	}, []string{"event"})

	BroadcastFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "temet",
		Subsystem: "broadcast",
		Name:      "failures_total",
		Help:      "Broadcast emissions that failed after a committed write.",
	})

	JournalFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "temet",
		Subsystem: "broadcast",
		Name:      "journal_failures_total",
		Help:      "Event journal writes that failed.",
	})

	// ─── Renumber job ────────────────────────────────────────────────────────────

	RenumberRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "temet",
		Subsystem: "renumber",
		Name:      "runs_total",
		Help:      "Renumber job ticks executed as leader.",
	})

	PartitionsRenumbered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "temet",
		Subsystem: "renumber",
		Name:      "partitions_total",
		Help:      "Partitions rewritten at full spacing.",
	})
)
