// Package models defines the core data structures used across Aegis.
//
// Aegis is the disaster-recovery data plane for Open Cloud Ops: it takes
// consistent backups of a document store, a time-series store, and a
// key-value store, replicates them across regions, monitors health, and
// executes controlled failover and recovery plans. These models flow
// between the backup engine, replicator, health monitor, failover
// orchestrator, and recovery planner.
package models

import "time"

// StoreKind identifies one of the three heterogeneous data stores Aegis
// backs up and replicates.
type StoreKind string

const (
	StoreDocument   StoreKind = "mongodb"
	StoreTimeSeries StoreKind = "influxdb"
	StoreKV         StoreKind = "redis"
)

// BackupKind distinguishes a self-contained snapshot from a delta.
type BackupKind string

const (
	BackupFull        BackupKind = "full"
	BackupIncremental BackupKind = "incremental"
)

// ReplicationState describes the observed condition of a secondary
// region's replication pipeline.
type ReplicationState string

const (
	ReplicationHealthy  ReplicationState = "healthy"
	ReplicationDegraded ReplicationState = "degraded"
	ReplicationFailed   ReplicationState = "failed"
)

// ConflictKind categorizes the operation that produced a replication
// conflict.
type ConflictKind string

const (
	ConflictCreate ConflictKind = "create"
	ConflictUpdate ConflictKind = "update"
	ConflictDelete ConflictKind = "delete"
)

// ConflictResolutionState tracks whether a conflict has been settled.
type ConflictResolutionState string

const (
	ConflictPending  ConflictResolutionState = "pending"
	ConflictResolved ConflictResolutionState = "resolved"
	ConflictManual   ConflictResolutionState = "manual"
)

// ConflictPolicy is the configured strategy for resolving replication
// conflicts.
type ConflictPolicy string

const (
	PolicyLastWriteWins  ConflictPolicy = "last-write-wins"
	PolicyTimestampBased ConflictPolicy = "timestamp-based"
	PolicyManual         ConflictPolicy = "manual"
)

// RecoveryPlanType selects the shape of a RecoveryPlan's step DAG.
type RecoveryPlanType string

const (
	RecoveryFull        RecoveryPlanType = "full"
	RecoveryPartial     RecoveryPlanType = "partial"
	RecoveryPointInTime RecoveryPlanType = "point-in-time"
)

// StepCategory classifies a RecoveryStep by the subsystem it acts on.
type StepCategory string

const (
	CategoryDatabase    StepCategory = "database"
	CategoryApplication StepCategory = "application"
	CategoryNetwork     StepCategory = "network"
	CategoryValidation  StepCategory = "validation"
)

// StepState is the lifecycle of a single RecoveryStep.
type StepState string

const (
	StepPending   StepState = "pending"
	StepRunning   StepState = "running"
	StepCompleted StepState = "completed"
	StepFailed    StepState = "failed"
)

// FailoverPhase is the orchestrator's per-failover state machine
// position.
type FailoverPhase string

const (
	PhaseIdle        FailoverPhase = "idle"
	PhaseValidating  FailoverPhase = "validating"
	PhaseDraining    FailoverPhase = "draining"
	PhasePromoting   FailoverPhase = "promoting"
	PhaseRouting     FailoverPhase = "routing"
	PhaseVerifying   FailoverPhase = "verifying"
	PhaseCommitted   FailoverPhase = "committed"
	PhaseRollingBack FailoverPhase = "rolling_back"
	PhaseRolledBack  FailoverPhase = "rolled_back"
	PhaseAborted     FailoverPhase = "aborted"
)

// HealthState is the coarse health classification used by HealthCheck
// and HealthStatus.
type HealthState string

const (
	HealthPass HealthState = "pass"
	HealthWarn HealthState = "warn"
	HealthFail HealthState = "fail"
)

// ComplianceStandard enumerates the regulatory frameworks the
// compliance evaluator can report against.
type ComplianceStandard string

const (
	StandardGDPR     ComplianceStandard = "GDPR"
	StandardSOC2     ComplianceStandard = "SOC2"
	StandardISO27001 ComplianceStandard = "ISO27001"
	StandardHIPAA    ComplianceStandard = "HIPAA"
	StandardPCIDSS   ComplianceStandard = "PCI-DSS"
)

// NetworkParams carries advisory link characteristics for a region, as
// loaded from configuration; no component reads them.
type NetworkParams struct {
	LatencyMs     int `json:"latencyMs"`
	BandwidthMbps int `json:"bandwidthMbps"`
}

// Region describes one geographic deployment Aegis knows about. Exactly
// one region in the active set carries Primary=true outside the
// orchestrator's exclusive section.
type Region struct {
	Name      string            `json:"name"`
	Primary   bool              `json:"primary"`
	Databases map[string]string `json:"databases"` // store kind -> connection URI
	Network   NetworkParams     `json:"network"`
}

// StoreBackupResult is the per-store outcome embedded in a BackupRecord.
type StoreBackupResult struct {
	Store       StoreKind `json:"store"`
	SizeBytes   int64     `json:"sizeBytes"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	Collections []string  `json:"collections,omitempty"`
}

// StorageLocator identifies where a backup's archive(s) live in object
// storage.
type StorageLocator struct {
	Bucket    string `json:"bucket"`
	KeyPrefix string `json:"keyPrefix"`
}

// BackupRecord is immutable after creation. It is produced by the
// backup engine and read by the recovery planner/executor.
type BackupRecord struct {
	ID        string              `json:"id" db:"id"`
	Kind      BackupKind          `json:"kind" db:"kind"`
	Timestamp time.Time           `json:"timestamp" db:"timestamp"`
	Stores    []StoreBackupResult `json:"stores" db:"-"`
	SizeBytes int64               `json:"sizeBytes" db:"size_bytes"`
	Duration  time.Duration       `json:"duration" db:"-"`
	Success   bool                `json:"success" db:"success"`
	Errors    []string            `json:"errors,omitempty" db:"-"`
	Locator   StorageLocator      `json:"locator" db:"-"`
	// SinceBackupID is set on incremental records: the full (or prior
	// incremental) backup this delta is composable with.
	SinceBackupID string `json:"sinceBackupId,omitempty" db:"since_backup_id"`
}

// ReplicationStatus is the per-secondary-region replication state.
// Mutated only by the replicator.
type ReplicationStatus struct {
	Region           string           `json:"region"`
	State            ReplicationState `json:"state"`
	LastSync         time.Time        `json:"lastSync"`
	LagMs            int64            `json:"lagMs"`
	LastError        string           `json:"lastError,omitempty"`
	DocumentsSynced  int64            `json:"documentsSynced"`
	PointsSynced     int64            `json:"pointsSynced"`
	KeysSynced       int64            `json:"keysSynced"`
	BytesTransferred int64            `json:"bytesTransferred"`
}

// ConflictRecord is append-only until resolved.
type ConflictRecord struct {
	ID            string                  `json:"id" db:"id"`
	DetectedAt    time.Time               `json:"detectedAt" db:"detected_at"`
	Store         StoreKind               `json:"store" db:"store"`
	Container     string                  `json:"container" db:"container"` // collection / bucket / keyspace
	EntityID      string                  `json:"entityId" db:"entity_id"`
	SourceRegion  string                  `json:"sourceRegion" db:"source_region"`
	TargetRegion  string                  `json:"targetRegion" db:"target_region"`
	Kind          ConflictKind            `json:"kind" db:"kind"`
	SourcePayload []byte                  `json:"sourcePayload" db:"source_payload"`
	TargetPayload []byte                  `json:"targetPayload" db:"target_payload"`
	Resolution    ConflictResolutionState `json:"resolution" db:"resolution"`
	ResolvedWith  string                  `json:"resolvedWith,omitempty" db:"resolved_with"` // "source" | "target" | "literal"
}

// FailoverEvent is an append-only audit record with a single terminal
// mutation (RolledBack may flip once after Success is recorded).
type FailoverEvent struct {
	ID         string        `json:"id" db:"id"`
	Timestamp  time.Time     `json:"timestamp" db:"timestamp"`
	FromRegion string        `json:"fromRegion" db:"from_region"`
	ToRegion   string        `json:"toRegion" db:"to_region"`
	Reason     string        `json:"reason" db:"reason"`
	Duration   time.Duration `json:"duration" db:"duration_ms"`
	Success    bool          `json:"success" db:"success"`
	RolledBack bool          `json:"rolledBack" db:"rolled_back"`
}

// RecoveryStep is a single node in a RecoveryPlan's dependency DAG.
type RecoveryStep struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Category     StepCategory  `json:"category"`
	Dependencies []string      `json:"dependencies"`
	Estimated    time.Duration `json:"estimatedDuration"`
	State        StepState     `json:"state"`
	Error        string        `json:"error,omitempty"`
}

// RecoveryPlan is immutable once created; only step states mutate during
// execution.
type RecoveryPlan struct {
	ID             string           `json:"id" db:"id"`
	Type           RecoveryPlanType `json:"type" db:"type"`
	TargetRegion   string           `json:"targetRegion" db:"target_region"`
	BackupID       string           `json:"backupId,omitempty" db:"backup_id"`
	PointInTime    *time.Time       `json:"pointInTime,omitempty" db:"point_in_time"`
	Steps          []*RecoveryStep  `json:"steps" db:"-"`
	EstimatedTotal time.Duration    `json:"estimatedTotalDuration" db:"-"`
	CreatedAt      time.Time        `json:"createdAt" db:"created_at"`
}

// DisasterRecoveryStatus is the process-wide, orchestrator-owned
// snapshot. Observers take read copies; only the orchestrator mutates
// the live value.
type DisasterRecoveryStatus struct {
	Primary         string                       `json:"primary"`
	ActiveRegion    string                       `json:"activeRegion"`
	Replication     map[string]ReplicationStatus `json:"replication"`
	LastHealthCheck time.Time                    `json:"lastHealthCheck"`
	Healthy         bool                         `json:"healthy"`
	RecentFailovers []FailoverEvent              `json:"recentFailovers"`
}

// HealthCheck is a single probe's result envelope. The same envelope
// covers region reachability, replication lag, and store connectivity
// probes.
type HealthCheck struct {
	Name      string        `json:"name"`
	Status    HealthState   `json:"status"`
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthStatus is the aggregate result of one monitoring round.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Checks    []HealthCheck `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
}

// DRPolicy defines RPO/RTO requirements the compliance evaluator checks
// declaratively against the loaded configuration.
type DRPolicy struct {
	ID         string             `json:"id" db:"id"`
	Name       string             `json:"name" db:"name"`
	Standard   ComplianceStandard `json:"standard" db:"standard"`
	RPOMinutes int                `json:"rpoMinutes" db:"rpo_minutes"`
	RTOMinutes int                `json:"rtoMinutes" db:"rto_minutes"`
	Severity   string             `json:"severity" db:"severity"`
	Regions    []string           `json:"regions" db:"regions"`
	Enabled    bool               `json:"enabled" db:"enabled"`
}

// ComplianceRequirement is one evaluated line item in a
// ComplianceReport.
type ComplianceRequirement struct {
	Name            string             `json:"name"`
	Standard        ComplianceStandard `json:"standard"`
	Severity        string             `json:"severity"` // "critical", "warning", "info"
	Pass            bool               `json:"pass"`
	Details         string             `json:"details"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

// ComplianceReport is the result of evaluating all DR policies against
// the loaded configuration, rendered to Markdown for operators.
type ComplianceReport struct {
	GeneratedAt      time.Time                  `json:"generatedAt"`
	OverallCompliant bool                       `json:"overallCompliant"`
	TotalChecked     int                        `json:"totalChecked"`
	PassCount        int                        `json:"passCount"`
	ByStandard       map[ComplianceStandard]int `json:"byStandard"`
	Requirements     []ComplianceRequirement    `json:"requirements"`
}
