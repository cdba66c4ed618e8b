// Package failover implements Aegis's Failover Orchestrator: the
// single-flight state machine that promotes a secondary region to
// primary, with rollback on any step failure from draining through
// verification.
//
// Failure counting per region, an append-only event log, a
// SimulateRegionFailure test hook, and a ForceFailover manual path are
// generalized from a four-state Normal/Alert/Failover/Recovering
// status into the explicit nine-phase state machine below, with an
// exclusive per-process lock replacing a coarser single mutex around
// the whole orchestrator (here only the failover critical section is
// exclusive; status reads never block behind it).
package failover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-dr/aegis/internal/drstate"
	"github.com/aegis-dr/aegis/internal/errs"
	"github.com/aegis-dr/aegis/internal/events"
	"github.com/aegis-dr/aegis/internal/health"
	"github.com/aegis-dr/aegis/internal/notify"
	"github.com/aegis-dr/aegis/pkg/models"
)

// RoutingCollaborator stops and redirects external traffic during a
// failover. Aegis has no real ingress/DNS binding of its own to call,
// so the default implementation (LoggingRouter) only logs the
// transition — the same simulated-collaborator idiom the backup
// engine's original Kubernetes client used for infrastructure it
// didn't actually own.
type RoutingCollaborator interface {
	Drain(ctx context.Context, region string) error
	Reroute(ctx context.Context, region string) error
}

// Promoter flips a secondary region's stores from read-replica to
// writable, and reverses that on rollback.
type Promoter interface {
	Promote(ctx context.Context, region string) error
	Demote(ctx context.Context, region string) error
}

// Store persists FailoverEvents to the control-plane metadata store.
type Store interface {
	SaveEvent(ctx context.Context, ev *models.FailoverEvent) error
	ListEvents(ctx context.Context, limit int) ([]*models.FailoverEvent, error)
}

// Config bundles an Orchestrator's fixed settings.
type Config struct {
	Regions      []string // configuration order; the active region is read from the drstate Store
	RTO          time.Duration
	RPO          time.Duration
	AutoFailover bool
	// UnhealthyRounds is how many consecutive unhealthy health-monitor
	// rounds against the active primary must be observed before
	// auto-failover initiates (a sustained unhealthy window).
	UnhealthyRounds int
	VerifyTimeout   time.Duration
}

// Orchestrator runs at most one failover at a time; Validating through
// Committed/RolledBack is its exclusive critical section.
type Orchestrator struct {
	cfg      Config
	router   RoutingCollaborator
	promoter Promoter
	health   *health.Monitor
	state    *drstate.Store
	records  Store
	bus      *events.Bus
	notifier *notify.Notifier
	log      zerolog.Logger

	mu              sync.Mutex
	phase           models.FailoverPhase
	unhealthyStreak int

	ratioMu  sync.Mutex
	rtoRatio float64
}

// New builds an Orchestrator. The initial phase is Idle.
func New(cfg Config, router RoutingCollaborator, promoter Promoter, h *health.Monitor, state *drstate.Store, records Store, bus *events.Bus, notifier *notify.Notifier, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		router:   router,
		promoter: promoter,
		health:   h,
		state:    state,
		records:  records,
		bus:      bus,
		notifier: notifier,
		log:      log,
		phase:    models.PhaseIdle,
		rtoRatio: 1.0,
	}
}

// Phase returns the orchestrator's current state-machine position.
func (o *Orchestrator) Phase() models.FailoverPhase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Failover runs the manual/CLI-triggered path: promote targetRegion,
// demoting whichever region is currently active. It rejects a second
// concurrent attempt while one is already in flight.
func (o *Orchestrator) Failover(ctx context.Context, targetRegion, reason string) (*models.FailoverEvent, error) {
	o.mu.Lock()
	if o.phase != models.PhaseIdle {
		o.mu.Unlock()
		return nil, errs.NewInvariant(fmt.Sprintf("failover already in progress (phase=%s)", o.phase))
	}
	o.phase = models.PhaseValidating
	o.mu.Unlock()

	from := o.state.Snapshot().ActiveRegion
	return o.run(ctx, from, targetRegion, reason)
}

// Serve runs the auto-failover watch loop until ctx is canceled:
// every health-monitor round, it checks whether the active primary has
// been unhealthy for UnhealthyRounds consecutive rounds and, if so and
// no failover is already running, initiates one with reason
// "automatic".
func (o *Orchestrator) Serve(ctx context.Context, checkEvery time.Duration) error {
	if !o.cfg.AutoFailover {
		return nil
	}
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.checkAutoFailover(ctx)
		}
	}
}

func (o *Orchestrator) checkAutoFailover(ctx context.Context) {
	active := o.state.Snapshot().ActiveRegion

	o.mu.Lock()
	if o.health.RegionHealthy(active) {
		o.unhealthyStreak = 0
		o.mu.Unlock()
		return
	}
	o.unhealthyStreak++
	streak := o.unhealthyStreak
	inFlight := o.phase != models.PhaseIdle
	o.mu.Unlock()

	if inFlight || streak < o.cfg.UnhealthyRounds {
		return
	}

	target := o.firstHealthySecondary(active)
	if target == "" {
		o.log.Warn().Str("primary", active).Msg("auto-failover: no healthy secondary available")
		return
	}

	o.log.Warn().Str("from", active).Str("to", target).Msg("auto-failover: initiating")
	if _, err := o.Failover(ctx, target, "automatic"); err != nil {
		o.log.Error().Err(err).Msg("auto-failover failed to initiate")
	}
}

// firstHealthySecondary walks o.cfg.Regions in configuration order and
// returns the first region that is neither the currently-active one
// nor reported unhealthy.
func (o *Orchestrator) firstHealthySecondary(active string) string {
	for _, r := range o.cfg.Regions {
		if r == active {
			continue
		}
		if o.health.RegionHealthy(r) {
			return r
		}
	}
	return ""
}
