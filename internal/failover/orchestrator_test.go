package failover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-dr/aegis/internal/drstate"
	"github.com/aegis-dr/aegis/internal/health"
	"github.com/aegis-dr/aegis/pkg/models"
)

// fakeRouter and fakePromoter record their calls; errOn names the
// region that should make the corresponding method fail, emulating
// FairForge's SimulateRegionFailure test hook.
type fakeRouter struct {
	mu               sync.Mutex
	drained, routed  []string
	drainErrRegion   string
	rerouteErrRegion string
}

func (r *fakeRouter) Drain(ctx context.Context, region string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if region == r.drainErrRegion {
		return errors.New("simulated drain failure")
	}
	r.drained = append(r.drained, region)
	return nil
}

func (r *fakeRouter) Reroute(ctx context.Context, region string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if region == r.rerouteErrRegion {
		return errors.New("simulated reroute failure")
	}
	r.routed = append(r.routed, region)
	return nil
}

type fakePromoter struct {
	mu                sync.Mutex
	promoted, demoted []string
	promoteErrRegion  string
}

func (p *fakePromoter) Promote(ctx context.Context, region string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if region == p.promoteErrRegion {
		return errors.New("simulated promote failure")
	}
	p.promoted = append(p.promoted, region)
	return nil
}

func (p *fakePromoter) Demote(ctx context.Context, region string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.demoted = append(p.demoted, region)
	return nil
}

type fakeEventStore struct {
	mu     sync.Mutex
	events []*models.FailoverEvent
}

func (s *fakeEventStore) SaveEvent(ctx context.Context, ev *models.FailoverEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeEventStore) ListEvents(ctx context.Context, limit int) ([]*models.FailoverEvent, error) {
	return s.events, nil
}

func allHealthyMonitor() *health.Monitor {
	m := health.NewMonitor(nil, time.Hour, nil, zerolog.Nop())
	return m
}

func newTestOrchestrator(router *fakeRouter, promoter *fakePromoter) (*Orchestrator, *drstate.Store, *fakeEventStore) {
	state := drstate.New("east")
	store := &fakeEventStore{}
	cfg := Config{Regions: []string{"east", "west"}, RTO: time.Minute, UnhealthyRounds: 2, VerifyTimeout: time.Second}
	o := New(cfg, router, promoter, allHealthyMonitor(), state, store, nil, nil, zerolog.Nop())
	return o, state, store
}

func TestFailoverCommitsAndUpdatesActiveRegion(t *testing.T) {
	router := &fakeRouter{}
	promoter := &fakePromoter{}
	o, state, store := newTestOrchestrator(router, promoter)

	ev, err := o.Failover(context.Background(), "west", "manual")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ev.Success {
		t.Error("expected successful failover")
	}
	if state.Snapshot().ActiveRegion != "west" {
		t.Errorf("expected active region west, got %s", state.Snapshot().ActiveRegion)
	}
	if o.Phase() != models.PhaseIdle {
		t.Errorf("expected orchestrator to return to idle, got %s", o.Phase())
	}
	if len(store.events) != 1 {
		t.Fatalf("expected one persisted event, got %d", len(store.events))
	}
}

func TestFailoverRollsBackOnPromoteFailure(t *testing.T) {
	router := &fakeRouter{}
	promoter := &fakePromoter{promoteErrRegion: "west"}
	o, state, _ := newTestOrchestrator(router, promoter)

	ev, err := o.Failover(context.Background(), "west", "manual")
	if err == nil {
		t.Fatal("expected error from failed promote")
	}
	if !ev.RolledBack {
		t.Error("expected event marked rolled back")
	}
	if state.Snapshot().ActiveRegion != "east" {
		t.Errorf("active region must remain east after rollback, got %s", state.Snapshot().ActiveRegion)
	}
	if len(router.routed) != 1 || router.routed[0] != "east" {
		t.Errorf("expected rollback to reroute traffic back to east, got %v", router.routed)
	}
}

func TestFailoverRejectsConcurrentAttempt(t *testing.T) {
	router := &fakeRouter{}
	promoter := &fakePromoter{}
	o, _, _ := newTestOrchestrator(router, promoter)

	o.mu.Lock()
	o.phase = models.PhaseDraining
	o.mu.Unlock()

	_, err := o.Failover(context.Background(), "west", "manual")
	if err == nil {
		t.Fatal("expected rejection while a failover is already in progress")
	}
}

func TestFailoverRejectsUnhealthyTarget(t *testing.T) {
	m := health.NewMonitor([]health.Probe{{
		Name: "west-db", Region: "west",
		Check: func(ctx context.Context) (models.HealthState, string) { return models.HealthFail, "down" },
	}}, time.Hour, nil, zerolog.Nop())
	m.RunOnce(context.Background())
	m.RunOnce(context.Background())

	state := drstate.New("east")
	o := New(Config{Regions: []string{"east", "west"}, VerifyTimeout: time.Second},
		&fakeRouter{}, &fakePromoter{}, m, state, &fakeEventStore{}, nil, nil, zerolog.Nop())

	_, err := o.Failover(context.Background(), "west", "manual")
	if err == nil {
		t.Fatal("expected validation to reject an unhealthy target region")
	}
}
