// Package metrics exposes Aegis's Prometheus counters and gauges.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Failover Orchestrator.
	FailoverTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_failover_total",
		Help: "Total number of failovers initiated",
	})
	FailoverSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aegis_failover_success_total",
		Help: "Total number of failovers that committed successfully",
	})
	HealthCheckFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_health_check_failures_total",
		Help: "Total number of failed health probes by region",
	}, []string{"region"})
	BackupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_backup_total",
		Help: "Total number of backups attempted by kind",
	}, []string{"kind"})
	BackupSuccessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_backup_success_total",
		Help: "Total number of backups completed successfully by kind",
	}, []string{"kind"})
	RecoveryPlanExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_recovery_plan_executions_total",
		Help: "Total number of recovery plan executions by type and outcome",
	}, []string{"type", "outcome"})

	FailoverDurationSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aegis_failover_duration_seconds",
		Help: "Duration of the most recently committed or rolled-back failover",
	})
	BackupSizeBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aegis_backup_size_bytes",
		Help: "Size of the most recent backup by store",
	}, []string{"store"})

	// RTOComplianceRatio is an exponential moving indicator clamped to
	// [0,1]; see failover.recordRTOCompliance. RPOComplianceRatio is set
	// to 1.0 at startup and nothing updates it afterwards.
	RTOComplianceRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aegis_rto_compliance_ratio",
		Help: "Exponential moving indicator of RTO compliance across recent failovers",
	})
	RPOComplianceRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aegis_rpo_compliance_ratio",
		Help: "RPO compliance indicator; set to 1.0 at startup and not updated",
	})

	// Replication.
	ReplicationLagSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aegis_replication_lag_seconds",
		Help: "Observed replication lag by region",
	}, []string{"region"})
	ConflictsDetectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_conflicts_detected_total",
		Help: "Total number of replication conflicts detected by store",
	}, []string{"store"})
	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aegis_circuit_breaker_state",
		Help: "Circuit breaker state by name: 0=closed, 1=half-open, 2=open",
	}, []string{"name"})
)

func init() {
	prometheus.MustRegister(
		FailoverTotal,
		FailoverSuccessTotal,
		HealthCheckFailuresTotal,
		BackupTotal,
		BackupSuccessTotal,
		RecoveryPlanExecutionsTotal,
		FailoverDurationSeconds,
		BackupSizeBytes,
		RTOComplianceRatio,
		RPOComplianceRatio,
		ReplicationLagSeconds,
		ConflictsDetectedTotal,
		CircuitBreakerState,
	)
	// Compliance ratios start at 1.0 (no failovers observed yet reads as
	// fully compliant, matching the invariant that the ratio is always
	// in [0,1]).
	RTOComplianceRatio.Set(1.0)
	RPOComplianceRatio.Set(1.0)
}

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AdjustRatio nudges a compliance gauge by delta and clamps the result
// to [0, 1], implementing an exponential-moving-indicator rule.
func AdjustRatio(gauge prometheus.Gauge, current float64, delta float64) float64 {
	next := current + delta
	if next > 1 {
		next = 1
	}
	if next < 0 {
		next = 0
	}
	gauge.Set(next)
	return next
}
