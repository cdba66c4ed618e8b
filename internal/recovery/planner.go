// Package recovery implements Aegis's Recovery Planner/Executor: it
// turns a recovery request into a typed DAG of RecoverySteps and walks
// that DAG respecting step dependencies, restoring the document,
// time-series, and key-value stores from backup archives along the
// way.
//
// Built as a four-category step DAG over the three data stores this
// system owns, generalized from a flat resource-filter restore model;
// keeps in-memory plan/execution bookkeeping and a dry-run-by-sharing-
// the-same-path idiom.
package recovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-dr/aegis/internal/backup"
	"github.com/aegis-dr/aegis/internal/store/document"
	"github.com/aegis-dr/aegis/internal/store/kv"
	"github.com/aegis-dr/aegis/internal/store/timeseries"
	"github.com/aegis-dr/aegis/pkg/models"
)

// Options parameterizes GeneratePlan for all three RecoveryPlanTypes.
type Options struct {
	TargetRegion string
	BackupID     string     // required for full/partial
	PointInTime  *time.Time // required for point-in-time
}

// Manager generates and executes RecoveryPlans.
type Manager struct {
	backups *backup.Manager
	records backup.BackupStore

	docStore document.Store
	tsStore  timeseries.Store
	kvStore  kv.Store

	log zerolog.Logger

	mu     sync.RWMutex
	plans  map[string]*models.RecoveryPlan
	chains map[string][]*models.BackupRecord
}

// NewManager builds a recovery Manager.
func NewManager(backups *backup.Manager, records backup.BackupStore, docStore document.Store, tsStore timeseries.Store, kvStore kv.Store, log zerolog.Logger) *Manager {
	return &Manager{
		backups: backups,
		records: records,
		docStore: docStore,
		tsStore:  tsStore,
		kvStore:  kvStore,
		log:      log,
		plans:    make(map[string]*models.RecoveryPlan),
		chains:   make(map[string][]*models.BackupRecord),
	}
}

// GeneratePlan builds a RecoveryPlan for the given type and options. The
// canonical full plan is four linear steps: restore databases, deploy
// applications, configure networking, validate. Partial
// plans drop the non-database steps since there is nothing in this
// system's domain for them to act on beyond the stores themselves.
// Point-in-time plans resolve the full+incremental backup chain at
// plan-generation time and fail with "no coverage" immediately if no
// full backup predates the target.
func (m *Manager) GeneratePlan(ctx context.Context, planType models.RecoveryPlanType, opts Options) (*models.RecoveryPlan, error) {
	now := time.Now().UTC()
	plan := &models.RecoveryPlan{
		ID:           fmt.Sprintf("plan-%d", now.UnixNano()),
		Type:         planType,
		TargetRegion: opts.TargetRegion,
		BackupID:     opts.BackupID,
		PointInTime:  opts.PointInTime,
		CreatedAt:    now,
	}

	var chain []*models.BackupRecord
	switch planType {
	case models.RecoveryFull, models.RecoveryPartial:
		if opts.BackupID == "" {
			return nil, fmt.Errorf("recovery: backup id is required for a %s plan", planType)
		}
		record, err := m.records.GetRecord(ctx, opts.BackupID)
		if err != nil {
			return nil, fmt.Errorf("recovery: backup %s not found: %w", opts.BackupID, err)
		}
		chain = []*models.BackupRecord{record}

	case models.RecoveryPointInTime:
		if opts.PointInTime == nil {
			return nil, fmt.Errorf("recovery: point-in-time is required for a point-in-time plan")
		}
		var err error
		chain, err = m.resolvePointInTimeChain(ctx, *opts.PointInTime)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("recovery: unknown plan type %q", planType)
	}

	plan.Steps = buildSteps(planType, chain)
	plan.EstimatedTotal = estimateTotal(plan.Steps)

	m.mu.Lock()
	m.plans[plan.ID] = plan
	m.chains[plan.ID] = chain
	m.mu.Unlock()

	m.log.Info().Str("planId", plan.ID).Str("type", string(planType)).Int("steps", len(plan.Steps)).Msg("recovery plan generated")
	return plan, nil
}

// resolvePointInTimeChain selects the most recent full backup with
// timestamp <= pit, then every incremental backup whose timestamp falls
// in (full.timestamp, pit], ordered oldest first. It returns "no
// coverage" when no eligible full backup exists.
func (m *Manager) resolvePointInTimeChain(ctx context.Context, pit time.Time) ([]*models.BackupRecord, error) {
	all, err := m.records.ListAllRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("recovery: list backup records: %w", err)
	}

	var best *models.BackupRecord
	for _, r := range all {
		if r.Kind != models.BackupFull || !r.Success || r.Timestamp.After(pit) {
			continue
		}
		if best == nil || r.Timestamp.After(best.Timestamp) {
			best = r
		}
	}
	if best == nil {
		return nil, fmt.Errorf("recovery: no coverage: no full backup exists at or before %s", pit.Format(time.RFC3339))
	}

	var incrementals []*models.BackupRecord
	for _, r := range all {
		if r.Kind != models.BackupIncremental || !r.Success {
			continue
		}
		if r.Timestamp.After(best.Timestamp) && !r.Timestamp.After(pit) {
			incrementals = append(incrementals, r)
		}
	}
	sort.Slice(incrementals, func(i, j int) bool { return incrementals[i].Timestamp.Before(incrementals[j].Timestamp) })

	return append([]*models.BackupRecord{best}, incrementals...), nil
}

// buildSteps lays out the canonical step DAG. Each restore-databases
// step in a point-in-time chain depends on the one before it, since
// an incremental only makes sense applied after what it is since.
func buildSteps(planType models.RecoveryPlanType, chain []*models.BackupRecord) []*models.RecoveryStep {
	var steps []*models.RecoveryStep
	var lastDBStepID string

	for i, record := range chain {
		id := fmt.Sprintf("restore-databases-%d", i)
		step := &models.RecoveryStep{
			ID:          id,
			Name:        "restore databases",
			Description: fmt.Sprintf("restore document/time-series/kv stores from backup %s", record.ID),
			Category:    models.CategoryDatabase,
			Estimated:   5 * time.Minute,
			State:       models.StepPending,
		}
		if lastDBStepID != "" {
			step.Dependencies = []string{lastDBStepID}
		}
		steps = append(steps, step)
		lastDBStepID = id
	}

	if planType == models.RecoveryPartial {
		return steps
	}

	deploy := &models.RecoveryStep{
		ID: "deploy-applications", Name: "deploy applications",
		Description: "bring dependent application workloads back online against the restored stores",
		Category:    models.CategoryApplication, Dependencies: []string{lastDBStepID},
		Estimated: 2 * time.Minute, State: models.StepPending,
	}
	network := &models.RecoveryStep{
		ID: "configure-networking", Name: "configure networking",
		Description: "repoint service discovery and ingress at the recovered region",
		Category:    models.CategoryNetwork, Dependencies: []string{deploy.ID},
		Estimated: time.Minute, State: models.StepPending,
	}
	validate := &models.RecoveryStep{
		ID: "validate", Name: "validate",
		Description: "confirm the recovered stores and dependents answer as healthy",
		Category:    models.CategoryValidation, Dependencies: []string{network.ID},
		Estimated: time.Minute, State: models.StepPending,
	}
	return append(steps, deploy, network, validate)
}

func estimateTotal(steps []*models.RecoveryStep) time.Duration {
	var total time.Duration
	for _, s := range steps {
		total += s.Estimated
	}
	return total
}

// GetPlan retrieves a previously generated plan by ID.
func (m *Manager) GetPlan(planID string) (*models.RecoveryPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	plan, ok := m.plans[planID]
	if !ok {
		return nil, fmt.Errorf("recovery: plan %q not found", planID)
	}
	return plan, nil
}
