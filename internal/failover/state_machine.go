package failover

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-dr/aegis/internal/events"
	"github.com/aegis-dr/aegis/internal/metrics"
	"github.com/aegis-dr/aegis/internal/notify"
	"github.com/aegis-dr/aegis/pkg/models"
)

// run drives a single failover attempt through every named phase, in
// order: Validating, Draining, Promoting, Routing, Verifying,
// Committed. A validation failure ends the attempt with no rollback,
// since nothing has changed yet. A failure at any step from Draining
// through Verifying triggers RollingBack, which reroutes traffic back
// to the source region and then demotes the target if it was promoted,
// before landing on RolledBack. o.phase always returns to
// Idle once run has returned, whatever the outcome, so the next
// Failover call can proceed.
func (o *Orchestrator) run(ctx context.Context, from, to, reason string) (*models.FailoverEvent, error) {
	start := time.Now()
	ev := &models.FailoverEvent{
		ID:         uuid.NewString(),
		Timestamp:  start.UTC(),
		FromRegion: from,
		ToRegion:   to,
		Reason:     reason,
	}

	defer func() {
		o.mu.Lock()
		o.phase = models.PhaseIdle
		o.mu.Unlock()
	}()

	if err := o.validate(ctx, from, to); err != nil {
		return o.finish(ctx, ev, start, fmt.Errorf("failover: validation failed: %w", err), false)
	}

	o.setPhase(models.PhaseDraining)
	if err := o.router.Drain(ctx, from); err != nil {
		return o.rollback(ctx, ev, start, fmt.Errorf("failover: drain failed: %w", err), false)
	}

	o.setPhase(models.PhasePromoting)
	if err := o.promoter.Promote(ctx, to); err != nil {
		return o.rollback(ctx, ev, start, fmt.Errorf("failover: promote failed: %w", err), true)
	}

	o.setPhase(models.PhaseRouting)
	if err := o.router.Reroute(ctx, to); err != nil {
		return o.rollback(ctx, ev, start, fmt.Errorf("failover: reroute failed: %w", err), true)
	}

	o.setPhase(models.PhaseVerifying)
	if err := o.verify(ctx, to); err != nil {
		return o.rollback(ctx, ev, start, fmt.Errorf("failover: verification failed: %w", err), true)
	}

	o.setPhase(models.PhaseCommitted)
	o.state.SetActiveRegion(to)
	o.state.SetPrimary(to)
	return o.finish(ctx, ev, start, nil, false)
}

// validate confirms the target is a known, currently-healthy region
// before anything is torn down on the source side.
func (o *Orchestrator) validate(ctx context.Context, from, to string) error {
	o.setPhase(models.PhaseValidating)
	if from == to {
		return fmt.Errorf("target region %q is already active", to)
	}
	if !o.health.RegionHealthy(to) {
		return fmt.Errorf("target region %q is not healthy", to)
	}
	return nil
}

// verify confirms the promoted region answers as healthy within
// VerifyTimeout before the failover is allowed to commit.
func (o *Orchestrator) verify(ctx context.Context, region string) error {
	timeout := o.cfg.VerifyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		if o.health.RegionHealthy(region) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("region %q did not report healthy within %s", region, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// rollback reverses whichever of Drain/Promote/Reroute already ran
// (promoted is true once Promote has been attempted, so a target whose
// promotion failed partway is demoted too) and
// returns the caused error wrapped around cause.
func (o *Orchestrator) rollback(ctx context.Context, ev *models.FailoverEvent, start time.Time, cause error, promoted bool) (*models.FailoverEvent, error) {
	o.setPhase(models.PhaseRollingBack)

	if err := o.router.Reroute(ctx, ev.FromRegion); err != nil {
		o.log.Error().Err(err).Str("region", ev.FromRegion).Msg("rollback: reroute to original failed")
	}
	if promoted {
		if err := o.promoter.Demote(ctx, ev.ToRegion); err != nil {
			o.log.Error().Err(err).Str("region", ev.ToRegion).Msg("rollback: demote failed")
		}
	}

	o.setPhase(models.PhaseRolledBack)
	ev.RolledBack = true
	return o.finish(ctx, ev, start, cause, true)
}

// finish stamps duration/success, persists and publishes the event,
// notifies sinks, and updates the RTO compliance gauge.
func (o *Orchestrator) finish(ctx context.Context, ev *models.FailoverEvent, start time.Time, cause error, rolledBack bool) (*models.FailoverEvent, error) {
	ev.Duration = time.Since(start)
	ev.Success = cause == nil

	o.recordRTOCompliance(ev.Duration)
	o.state.RecordFailover(*ev)

	if o.records != nil {
		if err := o.records.SaveEvent(ctx, ev); err != nil {
			o.log.Error().Err(err).Msg("failed to persist failover event")
		}
	}
	if o.bus != nil {
		if err := o.bus.Publish(events.TopicFailover, ev); err != nil {
			o.log.Warn().Err(err).Msg("failed to publish failover event")
		}
	}

	metrics.FailoverTotal.Inc()
	if ev.Success {
		metrics.FailoverSuccessTotal.Inc()
	}
	metrics.FailoverDurationSeconds.Set(ev.Duration.Seconds())

	if o.notifier != nil {
		outcome := "committed"
		if rolledBack {
			outcome = "rolled_back"
		}
		msg := fmt.Sprintf("failover %s -> %s: %s", ev.FromRegion, ev.ToRegion, outcome)
		if cause != nil {
			msg = fmt.Sprintf("%s (%s)", msg, cause)
		}
		o.notifier.Send(ctx, notify.Event{
			ID:       ev.ID,
			Kind:     "failover",
			Regions:  []string{ev.FromRegion, ev.ToRegion},
			Outcome:  outcome,
			Duration: ev.Duration,
			Message:  msg,
		})
	}

	if cause != nil {
		o.log.Error().Err(cause).Str("from", ev.FromRegion).Str("to", ev.ToRegion).Msg("failover did not commit")
		return ev, cause
	}
	o.log.Info().Str("from", ev.FromRegion).Str("to", ev.ToRegion).Dur("duration", ev.Duration).Msg("failover committed")
	return ev, nil
}

func (o *Orchestrator) setPhase(p models.FailoverPhase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
}

// recordRTOCompliance nudges the RTO compliance gauge toward 1 when
// duration falls within the configured RTO and away from it otherwise,
// using an exponential-moving-indicator rule.
func (o *Orchestrator) recordRTOCompliance(duration time.Duration) {
	o.ratioMu.Lock()
	defer o.ratioMu.Unlock()

	delta := -0.1
	if o.cfg.RTO <= 0 || duration <= o.cfg.RTO {
		delta = 0.1
	}
	o.rtoRatio = metrics.AdjustRatio(metrics.RTOComplianceRatio, o.rtoRatio, delta)
}
