package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aegis-dr/aegis/internal/metrics"
	"github.com/aegis-dr/aegis/internal/store/document"
	"github.com/aegis-dr/aegis/internal/store/kv"
	"github.com/aegis-dr/aegis/internal/store/timeseries"
	"github.com/aegis-dr/aegis/pkg/models"
)

// ExecutePlan looks up a previously generated plan by ID and runs it.
func (m *Manager) ExecutePlan(ctx context.Context, planID string, dryRun bool) error {
	m.mu.RLock()
	plan, ok := m.plans[planID]
	chain := m.chains[planID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("recovery: plan %q not found", planID)
	}
	return m.execute(ctx, plan, chain, dryRun)
}

// execute runs plan's step DAG to completion. dryRun skips the actual
// store-restore and only exercises validation logic, sharing the same
// execution path as a real run.
func (m *Manager) execute(ctx context.Context, plan *models.RecoveryPlan, chain []*models.BackupRecord, dryRun bool) error {
	dbStepToRecord := make(map[string]*models.BackupRecord, len(chain))
	for i, r := range chain {
		dbStepToRecord[fmt.Sprintf("restore-databases-%d", i)] = r
	}

	runner := func(ctx context.Context, step *models.RecoveryStep) error {
		switch step.Category {
		case models.CategoryDatabase:
			record, ok := dbStepToRecord[step.ID]
			if !ok {
				return fmt.Errorf("no backup record mapped to step %s", step.ID)
			}
			if dryRun {
				m.log.Info().Str("step", step.ID).Str("backupId", record.ID).Msg("recovery: [dry-run] would restore stores")
				return nil
			}
			return m.restoreBackup(ctx, record)

		case models.CategoryApplication, models.CategoryNetwork:
			// Aegis's domain is the three data stores; it owns no
			// application or network control plane to actually repoint,
			// so these steps are simulated the same way the failover
			// orchestrator's LoggingRouter simulates traffic cutover.
			m.log.Info().Str("step", step.ID).Str("region", plan.TargetRegion).Msg("recovery: " + step.Name)
			return nil

		case models.CategoryValidation:
			return m.validateRestore(ctx)

		default:
			return fmt.Errorf("unknown step category %q", step.Category)
		}
	}

	start := time.Now()
	err := runDAG(ctx, plan.Steps, runner)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.RecoveryPlanExecutionsTotal.WithLabelValues(string(plan.Type), outcome).Inc()
	m.log.Info().Str("planId", plan.ID).Str("outcome", outcome).Dur("duration", time.Since(start)).Msg("recovery plan execution finished")

	return err
}

// restoreBackup loads each store's archived payload for record and
// restores it via that store's Restore method.
func (m *Manager) restoreBackup(ctx context.Context, record *models.BackupRecord) error {
	for _, res := range record.Stores {
		if !res.Success {
			continue
		}
		payload, err := m.backups.LoadStorePayload(ctx, res.Store, record.ID)
		if err != nil {
			return fmt.Errorf("load payload for %s: %w", res.Store, err)
		}

		switch res.Store {
		case models.StoreDocument:
			var docs []document.Document
			if err := json.Unmarshal(payload, &docs); err != nil {
				return fmt.Errorf("unmarshal document payload: %w", err)
			}
			if err := m.docStore.Restore(ctx, docs); err != nil {
				return fmt.Errorf("restore document store: %w", err)
			}
		case models.StoreTimeSeries:
			var points []timeseries.Point
			if err := json.Unmarshal(payload, &points); err != nil {
				return fmt.Errorf("unmarshal time-series payload: %w", err)
			}
			if err := m.tsStore.Restore(ctx, points); err != nil {
				return fmt.Errorf("restore time-series store: %w", err)
			}
		case models.StoreKV:
			var entries []kv.Entry
			if err := json.Unmarshal(payload, &entries); err != nil {
				return fmt.Errorf("unmarshal kv payload: %w", err)
			}
			if err := m.kvStore.Restore(ctx, entries); err != nil {
				return fmt.Errorf("restore kv store: %w", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// validateRestore pings all three stores post-restore; the validate
// step has no more specific contract than "confirm the recovered
// system is healthy".
func (m *Manager) validateRestore(ctx context.Context) error {
	if err := m.docStore.Ping(ctx); err != nil {
		return fmt.Errorf("validate: document store ping failed: %w", err)
	}
	if err := m.tsStore.Ping(ctx); err != nil {
		return fmt.Errorf("validate: time-series store ping failed: %w", err)
	}
	if err := m.kvStore.Ping(ctx); err != nil {
		return fmt.Errorf("validate: kv store ping failed: %w", err)
	}
	return nil
}
