package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-dr/aegis/internal/events"
	"github.com/aegis-dr/aegis/pkg/models"
)

// Bridge subscribes to the event bus and turns two of its topics into
// notifications: a health check that has gone unhealthy, and a
// replication conflict left pending under manual resolution policy.
// Failover commit/rollback notifies directly from the orchestrator
// rather than through the bus, since that path already owns the full
// FailoverEvent at the moment it needs to notify.
type Bridge struct {
	bus      *events.Bus
	notifier *Notifier
	log      zerolog.Logger
}

// NewBridge builds a Bridge over bus, delivering through notifier.
func NewBridge(bus *events.Bus, notifier *Notifier, log zerolog.Logger) *Bridge {
	return &Bridge{bus: bus, notifier: notifier, log: log}
}

// Serve subscribes to TopicHealthChange and TopicConflict and forwards
// matching events to the notifier until ctx is canceled.
func (b *Bridge) Serve(ctx context.Context) error {
	health, err := events.Subscribe[models.HealthStatus](ctx, b.bus, events.TopicHealthChange)
	if err != nil {
		return fmt.Errorf("notify: subscribe health bridge: %w", err)
	}
	conflicts, err := events.Subscribe[models.ConflictRecord](ctx, b.bus, events.TopicConflict)
	if err != nil {
		return fmt.Errorf("notify: subscribe conflict bridge: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case status, ok := <-health:
			if !ok {
				health = nil
				continue
			}
			b.handleHealth(ctx, status)
		case record, ok := <-conflicts:
			if !ok {
				conflicts = nil
				continue
			}
			b.handleConflict(ctx, record)
		}
	}
}

// handleHealth notifies once per round a region has a probe stuck at
// the two-consecutive-failure threshold; warn-level misses and fully
// healthy rounds are not repeated-failure events.
func (b *Bridge) handleHealth(ctx context.Context, status models.HealthStatus) {
	if status.Healthy {
		return
	}
	var failing []string
	for _, check := range status.Checks {
		if check.Status == models.HealthFail {
			failing = append(failing, check.Name)
		}
	}
	if len(failing) == 0 {
		return
	}
	b.notifier.Send(ctx, Event{
		ID:      "health-" + status.Timestamp.Format(time.RFC3339Nano),
		Kind:    "health",
		Outcome: "unhealthy",
		Message: fmt.Sprintf("repeated health check failure: %v", failing),
	})
}

// handleConflict notifies only conflicts left pending for an operator
// to resolve; auto-resolved conflicts already have a winning side
// applied and don't need attention.
func (b *Bridge) handleConflict(ctx context.Context, record models.ConflictRecord) {
	if record.Resolution != models.ConflictPending {
		return
	}
	b.notifier.Send(ctx, Event{
		ID:      record.ID,
		Kind:    "conflict",
		Regions: []string{record.SourceRegion, record.TargetRegion},
		Outcome: "pending",
		Message: fmt.Sprintf("manual conflict resolution required: %s/%s entity %s", record.Store, record.Container, record.EntityID),
	})
}
