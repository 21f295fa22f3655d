// Package metrics holds the Prometheus collectors shared by the provisioning,
// credential and rollback components. Collectors register with the default
// registry and are served by the metrics service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "userservice"

var (
	// SagaRuns counts finished saga runs.
	// Labels: saga, outcome (success, compensated, validation_failed)
	SagaRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "runs_total",
		Help:      "Finished saga runs by outcome",
	}, []string{"saga", "outcome"})

	// SagaStepFailures counts the step that ended a failed run.
	// Labels: saga, step
	SagaStepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "step_failures_total",
		Help:      "Saga steps that failed and triggered compensation",
	}, []string{"saga", "step"})

	// SagaCompensations counts executed compensations.
	// Labels: saga, step, outcome (success, error)
	SagaCompensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "compensations_total",
		Help:      "Executed saga compensations by outcome",
	}, []string{"saga", "step", "outcome"})

	// SagaDuration measures saga run latency including compensation.
	SagaDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "duration_seconds",
		Help:      "Saga run duration in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"saga"})

	// CredentialRotations counts slot logins and logouts.
	// Labels: role, slot, op (login, logout), outcome (success, error)
	CredentialRotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "credentials",
		Name:      "rotations_total",
		Help:      "Credential slot logins and logouts by outcome",
	}, []string{"role", "slot", "op", "outcome"})

	// CredentialSlotsFilled reports 1 when a slot holds a credential.
	// Labels: role, slot
	CredentialSlotsFilled = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "credentials",
		Name:      "slot_filled",
		Help:      "Whether a credential slot currently holds a credential",
	}, []string{"role", "slot"})

	// ReconciliationWarnings counts best-effort rollback failures.
	// Labels: operation
	ReconciliationWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rollback",
		Name:      "warnings_total",
		Help:      "Chat group rollback operations that failed and were skipped",
	}, []string{"operation"})
)

// Outcome maps an error to the outcome label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// BoolGauge converts a flag to a gauge value.
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
