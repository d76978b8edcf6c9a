package router

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels of commands_total.
const (
	outcomeReplied   = "replied"
	outcomeDropped   = "dropped"
	outcomeConsent   = "consent"
	outcomeFailed    = "failed"
	outcomeMalformed = "malformed"
)

var (
	registerOnce sync.Once

	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletlink",
			Subsystem: "router",
			Name:      "commands_total",
			Help:      "Commands handled by the router.",
		},
		[]string{"kind", "outcome"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "walletlink",
			Subsystem: "router",
			Name:      "command_duration_seconds",
			Help:      "Time from receiving a command to replying or suspending it.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	resumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletlink",
			Subsystem: "consent",
			Name:      "decisions_total",
			Help:      "Consent decisions relayed back to dApps.",
		},
		[]string{"kind", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(commands, commandDuration, resumed)
	})
}

func recordCommand(kind, outcome string, duration time.Duration) {
	RegisterMetrics()
	if kind == "" {
		kind = "unknown"
	}
	commands.WithLabelValues(kind, outcome).Inc()
	commandDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func recordDecision(kind, outcome string) {
	RegisterMetrics()
	resumed.WithLabelValues(kind, outcome).Inc()
}
