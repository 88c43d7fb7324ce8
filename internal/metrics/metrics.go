package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run decision and charge counters, labeled by outcome.
var (
	// RunDecisions counts gate decisions by result ("allowed", "locked",
	// "fault") and lock kind ("none", "tokens", "plan", "cooldown",
	// "multi").
	RunDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toolgate",
		Subsystem: "run",
		Name:      "decisions_total",
		Help:      "Gate decisions by result and lock kind.",
	}, []string{"result", "lock_kind"})

	// Charges counts recorded charges by metering mode ("bonus_run",
	// "tokens").
	Charges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toolgate",
		Subsystem: "metering",
		Name:      "charges_total",
		Help:      "Recorded charges by metering mode.",
	}, []string{"mode"})

	// ChargedTokens totals tokens charged across runs.
	ChargedTokens = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "toolgate",
		Subsystem: "metering",
		Name:      "charged_tokens_total",
		Help:      "Total tokens charged for tool runs.",
	})
)
