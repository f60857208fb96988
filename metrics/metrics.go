// Package metrics exposes Prometheus collectors for associations and DIMSE
// commands.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	associations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dicomul",
			Subsystem: "association",
			Name:      "total",
			Help:      "Associations by role and how they ended.",
		},
		[]string{"role", "outcome"},
	)
	associationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dicomul",
			Subsystem: "association",
			Name:      "duration_seconds",
			Help:      "Lifetime of established associations in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"role", "outcome"},
	)
	activeAssociations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "dicomul",
			Subsystem: "association",
			Name:      "active",
			Help:      "Associations currently established.",
		},
		[]string{"role"},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dicomul",
			Subsystem: "dimse",
			Name:      "commands_total",
			Help:      "DIMSE commands handled, by command and outcome.",
		},
		[]string{"command", "outcome"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dicomul",
			Subsystem: "dimse",
			Name:      "command_duration_seconds",
			Help:      "DIMSE command handling duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command", "outcome"},
	)
)

// Association outcomes
const (
	OutcomeReleased = "released"
	OutcomeAborted  = "aborted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// RegisterMetrics registers the collectors with the default registry once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(associations, associationDuration, activeAssociations, commands, commandDuration)
	})
}

// AssociationEstablished marks one more live association for role.
func AssociationEstablished(role string) {
	RegisterMetrics()
	activeAssociations.WithLabelValues(role).Inc()
}

// RecordAssociation records how an association ended. Associations that were
// never established are counted but their lifetime is not observed.
func RecordAssociation(role, outcome string, lifetime time.Duration, established bool) {
	RegisterMetrics()
	associations.WithLabelValues(role, outcome).Inc()
	if established {
		activeAssociations.WithLabelValues(role).Dec()
		associationDuration.WithLabelValues(role, outcome).Observe(lifetime.Seconds())
	}
}

// RecordCommand records one handled DIMSE command.
func RecordCommand(command, outcome string, duration time.Duration) {
	RegisterMetrics()
	commands.WithLabelValues(command, outcome).Inc()
	commandDuration.WithLabelValues(command, outcome).Observe(duration.Seconds())
}
